// Package governor assembles the full governance stack from
// configuration: ledger database, per-provider policies and admission
// controllers, the fallback coordinator, the emergency throttle,
// reporting, retention, and metrics.
//
// It is the only package that knows how the pieces fit together;
// everything below it is wired through constructor parameters.
package governor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"helios-hq/saturn/pkg/admission"
	"helios-hq/saturn/pkg/config"
	"helios-hq/saturn/pkg/emergency"
	"helios-hq/saturn/pkg/fallback"
	"helios-hq/saturn/pkg/ledger"
	"helios-hq/saturn/pkg/policy"
	"helios-hq/saturn/pkg/report"
	"helios-hq/saturn/pkg/retention"
	"helios-hq/saturn/pkg/telemetry/metrics"
)

// providerStack bundles everything built for one provider.
type providerStack struct {
	name       string
	store      ledger.Store
	source     *policy.Source
	controller *admission.Controller
	reporter   *report.Reporter
}

// Governor is the composition root and public entry point.
type Governor struct {
	db          *ledger.DB
	providers   []*providerStack
	byName      map[string]*providerStack
	coordinator *fallback.Coordinator
	throttle    *emergency.Throttle
	pruner      *retention.Pruner
	scheduler   *retention.Scheduler
	collector   *metrics.Collector
	logger      *slog.Logger
}

// New builds a governor from validated configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Governor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider must be configured")
	}

	db, err := ledger.OpenWithConfig(ledger.DBConfig{
		Path:               cfg.Database.Path,
		BusyTimeout:        cfg.Database.BusyTimeout,
		CheckpointInterval: cfg.Database.CheckpointInterval,
	})
	if err != nil {
		return nil, err
	}

	g := &Governor{
		db:        db,
		byName:    make(map[string]*providerStack, len(cfg.Providers)),
		collector: metrics.NewCollector(),
		logger:    logger.With("component", "governor"),
	}

	// The emergency throttle watches the primary provider's aggregate
	// usage and gates every provider, so exhausting the primary parks
	// the whole system rather than stampeding the fallback.
	primary := cfg.Providers[0]
	primaryPolicy := buildPolicy(cfg, &primary)
	if err := primaryPolicy.Validate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("provider %q policy: %w", primary.Name, err)
	}
	primarySource := policy.NewSource(primaryPolicy)
	primaryStore := db.Provider(primary.Name)
	g.throttle = emergency.NewThrottle(primaryStore, primarySource)

	fallbackProviders := make([]*fallback.Provider, 0, len(cfg.Providers))
	for i := range cfg.Providers {
		pc := &cfg.Providers[i]

		var source *policy.Source
		var store ledger.Store
		if i == 0 {
			source, store = primarySource, primaryStore
		} else {
			pol := buildPolicy(cfg, pc)
			if err := pol.Validate(); err != nil {
				db.Close()
				return nil, fmt.Errorf("provider %q policy: %w", pc.Name, err)
			}
			source = policy.NewSource(pol)
			store = db.Provider(pc.Name)
		}

		stack := &providerStack{
			name:   pc.Name,
			store:  store,
			source: source,
			controller: admission.NewController(admission.ControllerConfig{
				Provider:  pc.Name,
				Source:    source,
				Store:     store,
				Emergency: g.throttle,
				Logger:    logger,
			}),
		}
		var throttle *emergency.Throttle
		if i == 0 {
			throttle = g.throttle
		}
		stack.reporter = report.NewReporter(pc.Name, store, source, throttle)

		g.providers = append(g.providers, stack)
		g.byName[pc.Name] = stack
		fallbackProviders = append(fallbackProviders, &fallback.Provider{
			Name:       pc.Name,
			Controller: stack.controller,
			Source:     source,
			Store:      store,
		})
	}

	g.coordinator = fallback.NewCoordinator(fallbackProviders, logger)

	targets := make([]retention.Target, 0, len(g.providers))
	for _, p := range g.providers {
		targets = append(targets, retention.Target{Provider: p.name, Store: p.store})
	}
	pruner, err := retention.NewPruner(targets, &retention.Config{
		RetentionDays:       cfg.Retention.Days,
		PruneSchedule:       cfg.Retention.Schedule,
		ArchiveBeforeDelete: cfg.Retention.ArchiveBeforeDelete,
		ArchivePath:         cfg.Retention.ArchivePath,
	}, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	g.pruner = pruner
	g.scheduler = retention.NewScheduler(pruner, logger)

	return g, nil
}

// buildPolicy derives one provider's policy from the configuration.
func buildPolicy(cfg *config.Config, pc *config.ProviderConfig) *policy.Policy {
	return &policy.Policy{
		Provider:             pc.Name,
		GlobalMonthlyCap:     pc.MonthlyCap,
		SoftEnforcementRatio: pc.SoftRatio,
		PerRequestCap:        pc.PerRequestCap,
		DailySlicePercent:    pc.DailySlicePercent,
		HourlySlicePercent:   pc.HourlySlicePercent,
		Cooldown:             cfg.Admission.Cooldown,
		MaxConcurrent:        cfg.Admission.MaxConcurrent,
		AcquireTimeout:       cfg.Admission.AcquireTimeout,
		EmergencyThreshold:   cfg.Emergency.Threshold,
		AllowAgents:          append([]string(nil), cfg.Emergency.AllowAgents...),
		FallbackThreshold:    pc.FallbackThreshold,
		Agents:               append([]string(nil), cfg.Agents...),
	}
}

// CheckAndReserve routes one admission request through the fallback
// chain and, on a grant, bills the tokens against the granting
// provider's ledger. The caller must Release the result when the
// downstream call finishes.
func (g *Governor) CheckAndReserve(ctx context.Context, agentID string, requestedTokens int64) (*fallback.Result, error) {
	start := time.Now()
	result, err := g.coordinator.Request(ctx, agentID, requestedTokens)
	if err != nil {
		return nil, err
	}
	g.observe(agentID, requestedTokens, result, time.Since(start))
	return result, nil
}

// observe feeds one decision into the metrics collector.
func (g *Governor) observe(agentID string, tokens int64, result *fallback.Result, elapsed time.Duration) {
	if result.Granted {
		g.collector.RecordAdmission(result.Provider, agentID, admission.ReasonOK.String(), elapsed)
		g.collector.RecordGrant(result.Provider, agentID, tokens)
		g.collector.RecordFallback(result.Provider)
		if stack, ok := g.byName[result.Provider]; ok && result.Decision.Record != nil {
			pol := stack.source.Current()
			g.collector.SetUsageRatio(result.Provider, agentID, pol.UsagePercent(result.Decision.Record)/100)
		}
	} else {
		for _, a := range result.Attempts {
			if a.Skipped {
				continue
			}
			g.collector.RecordAdmission(a.Provider, agentID, a.Reason.String(), elapsed)
		}
		g.collector.RecordFallback("")
	}
	for _, p := range g.providers {
		g.collector.SetInFlight(p.name, p.controller.Slots().InFlight())
	}
}

// Summary returns the usage report for one provider.
func (g *Governor) Summary(ctx context.Context, provider string) (*report.Summary, error) {
	stack, err := g.provider(provider)
	if err != nil {
		return nil, err
	}
	return stack.reporter.Summary(ctx)
}

// AgentUsage returns one agent's current-month view on a provider.
func (g *Governor) AgentUsage(ctx context.Context, provider, agentID string) (*report.AgentUsage, error) {
	stack, err := g.provider(provider)
	if err != nil {
		return nil, err
	}
	return stack.reporter.Agent(ctx, agentID)
}

// Alerts returns the usage alerts for one provider.
func (g *Governor) Alerts(ctx context.Context, provider string) ([]*report.Alert, error) {
	stack, err := g.provider(provider)
	if err != nil {
		return nil, err
	}
	return stack.reporter.Alerts(ctx)
}

// EmergencyStatus returns the system-wide throttle state, refreshing
// the emergency gauge as a side effect.
func (g *Governor) EmergencyStatus(ctx context.Context) (*emergency.Status, error) {
	status, err := g.throttle.Status(ctx)
	if err != nil {
		return nil, err
	}
	g.collector.SetEmergencyActive(g.providers[0].name, status.Active)
	return status, nil
}

// Suspend marks the agent's current-month record suspended on the
// given provider.
func (g *Governor) Suspend(ctx context.Context, provider, agentID string) error {
	return g.setStatus(ctx, provider, agentID, ledger.StatusSuspended)
}

// Resume restores a suspended agent to active.
func (g *Governor) Resume(ctx context.Context, provider, agentID string) error {
	return g.setStatus(ctx, provider, agentID, ledger.StatusActive)
}

func (g *Governor) setStatus(ctx context.Context, provider, agentID string, status ledger.Status) error {
	stack, err := g.provider(provider)
	if err != nil {
		return err
	}
	month := ledger.MonthOf(time.Now())
	if _, err := stack.store.GetOrCreate(ctx, agentID, month, stack.source.Current().EnforcedCap()); err != nil {
		return err
	}
	return stack.store.SetStatus(ctx, agentID, month, status)
}

// ResetAgent zeroes the agent's current-month counters on a provider.
func (g *Governor) ResetAgent(ctx context.Context, provider, agentID string) error {
	stack, err := g.provider(provider)
	if err != nil {
		return err
	}
	return stack.store.Reset(ctx, agentID, ledger.MonthOf(time.Now()))
}

// Reload rebuilds every provider policy from cfg and swaps them in
// atomically. In-flight decisions finish against the policy they
// started with; the concurrency pool keeps its original size.
func (g *Governor) Reload(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	policies := make(map[string]*policy.Policy, len(cfg.Providers))
	for i := range cfg.Providers {
		pc := &cfg.Providers[i]
		stack, ok := g.byName[pc.Name]
		if !ok {
			g.logger.Warn("reload: new provider requires restart, skipping", "provider", pc.Name)
			continue
		}
		pol := buildPolicy(cfg, pc)
		if err := pol.Validate(); err != nil {
			return fmt.Errorf("provider %q policy: %w", pc.Name, err)
		}
		policies[stack.name] = pol
	}
	for name, pol := range policies {
		g.byName[name].source.Swap(pol)
	}
	g.logger.Info("policies reloaded", "providers", len(policies))
	return nil
}

// Prune runs one retention pass over every provider ledger.
func (g *Governor) Prune(ctx context.Context) (int64, error) {
	return g.pruner.Prune(ctx)
}

// StartRetention starts the scheduled retention pruning. A missing
// schedule makes this a no-op.
func (g *Governor) StartRetention(ctx context.Context) error {
	return g.scheduler.Start(ctx)
}

// MetricsHandler returns the Prometheus scrape handler.
func (g *Governor) MetricsHandler() http.Handler {
	return g.collector.Handler()
}

// Providers returns the configured provider names in fallback order.
func (g *Governor) Providers() []string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = p.name
	}
	return names
}

func (g *Governor) provider(name string) (*providerStack, error) {
	stack, ok := g.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return stack, nil
}

// Close stops the retention scheduler and releases storage.
func (g *Governor) Close() error {
	g.scheduler.Stop()
	if err := g.pruner.Close(); err != nil {
		g.logger.Error("failed to close retention archive", "error", err)
	}
	return g.db.Close()
}

package admission

import (
	"context"
	"log/slog"
	"time"

	"helios-hq/saturn/pkg/ledger"
	"helios-hq/saturn/pkg/policy"
)

// EmergencyChecker reports whether the system-wide throttle is active.
// The concrete implementation lives in pkg/emergency; the controller
// only needs the boolean.
type EmergencyChecker interface {
	Active(ctx context.Context) (bool, error)
}

// Controller runs the ordered admission checks for one provider.
//
// Check order (short-circuiting, each failure with its own reason):
// per-request cap, cooldown, concurrency slot, monthly remaining,
// rolling daily/hourly slice, emergency throttle. The final grant is a
// conditional ledger reservation, so the spend is billed before the
// downstream call proceeds.
type Controller struct {
	provider  string
	source    *policy.Source
	store     ledger.Store
	slots     *SlotLimiter
	cooldowns *CooldownTracker
	emergency EmergencyChecker
	logger    *slog.Logger
	now       func() time.Time
}

// ControllerConfig wires a Controller's collaborators.
type ControllerConfig struct {
	// Provider names the downstream provider, used for logging.
	Provider string

	// Source supplies the active policy; the slot pool is sized from
	// the policy current at construction time.
	Source *policy.Source

	// Store is the usage ledger for this provider.
	Store ledger.Store

	// Emergency is the system-wide throttle check. Nil disables the
	// emergency step (used by isolated tests).
	Emergency EmergencyChecker

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewController creates a controller. The concurrency slot pool is
// sized from the current policy; a policy swap changes every other
// ceiling on the fly but not the pool size.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	pol := cfg.Source.Current()
	return &Controller{
		provider:  cfg.Provider,
		source:    cfg.Source,
		store:     cfg.Store,
		slots:     NewSlotLimiter(pol.MaxConcurrent, pol.AcquireTimeout),
		cooldowns: NewCooldownTracker(),
		emergency: cfg.Emergency,
		logger:    cfg.Logger.With("component", "admission", "provider", cfg.Provider),
		now:       cfg.Now,
	}
}

// Slots exposes the concurrency pool for metrics.
func (c *Controller) Slots() *SlotLimiter { return c.slots }

// Check decides whether the agent may spend requestedTokens now.
//
// Denials are structured results, never errors: the returned Decision
// carries the reason code and the denial has already been audited in
// the ledger. An unreachable ledger denies with store_unavailable
// (fail-closed). Only genuinely unexpected failures return an error.
func (c *Controller) Check(ctx context.Context, agentID string, requestedTokens int64) (*Decision, error) {
	pol := c.source.Current()
	now := c.now().UTC()
	month := ledger.MonthOf(now)

	// 1. Per-request cap.
	if !pol.WithinRequestCap(requestedTokens) {
		return c.deny(ctx, pol, agentID, month, requestedTokens, ReasonRequestTooLarge, time.Time{}), nil
	}

	// 2. Cooldown since the agent's last grant. The reservation is
	// atomic: concurrent callers for the same agent see it before the
	// later checks run, and a denial further down rolls it back.
	wait, cancelCooldown := c.cooldowns.Reserve(agentID, pol.Cooldown, now)
	if cancelCooldown == nil {
		return c.deny(ctx, pol, agentID, month, requestedTokens, ReasonCooldownActive, now.Add(wait)), nil
	}
	granted := false
	defer func() {
		// A denied request must not charge the agent's cooldown.
		if !granted {
			cancelCooldown()
		}
	}()

	// 3. Concurrency slot, bounded wait.
	release, ok := c.slots.Acquire(ctx)
	if !ok {
		return c.deny(ctx, pol, agentID, month, requestedTokens, ReasonConcurrencyTimeout, time.Time{}), nil
	}
	defer func() {
		// Any denial past this point must give the slot back.
		if !granted {
			release()
		}
	}()

	// 4. Monthly record.
	rec, err := c.store.GetOrCreate(ctx, agentID, month, pol.EnforcedCap())
	if err != nil {
		return c.storeDeny(ctx, pol, agentID, month, requestedTokens, err), nil
	}
	if rec.Status == ledger.StatusSuspended {
		return c.denyWithRecord(ctx, pol, agentID, month, requestedTokens, ReasonAgentSuspended, month.Next(), rec), nil
	}
	if rec.Status == ledger.StatusLimitReached || pol.Remaining(rec) < requestedTokens {
		return c.denyWithRecord(ctx, pol, agentID, month, requestedTokens, ReasonMonthlyLimitExceeded, month.Next(), rec), nil
	}

	// 5. Rolling daily and hourly slices, computed from the audit log.
	dayUsage, err := c.store.WindowUsage(ctx, agentID, now.Add(-24*time.Hour))
	if err != nil {
		return c.storeDeny(ctx, pol, agentID, month, requestedTokens, err), nil
	}
	if dayUsage+requestedTokens > pol.AgentDailyCap(now) {
		reset := c.windowReset(ctx, agentID, now, 24*time.Hour)
		return c.denyWithRecord(ctx, pol, agentID, month, requestedTokens, ReasonDailyLimitExceeded, reset, rec), nil
	}
	hourUsage, err := c.store.WindowUsage(ctx, agentID, now.Add(-time.Hour))
	if err != nil {
		return c.storeDeny(ctx, pol, agentID, month, requestedTokens, err), nil
	}
	if hourUsage+requestedTokens > pol.AgentHourlyCap(now) {
		reset := c.windowReset(ctx, agentID, now, time.Hour)
		return c.denyWithRecord(ctx, pol, agentID, month, requestedTokens, ReasonHourlyLimitExceeded, reset, rec), nil
	}

	// 6. Emergency throttle.
	if c.emergency != nil && !pol.EmergencyExempt(agentID) {
		active, err := c.emergency.Active(ctx)
		if err != nil {
			return c.storeDeny(ctx, pol, agentID, month, requestedTokens, err), nil
		}
		if active {
			return c.denyWithRecord(ctx, pol, agentID, month, requestedTokens, ReasonEmergencyThrottle, time.Time{}, rec), nil
		}
	}

	// 7. Bill then use: the conditional reservation re-checks the fit
	// inside the ledger transaction, so concurrent callers that all
	// passed step 4 cannot jointly overspend.
	rec, applied, err := c.store.ReserveUsage(ctx, &ledger.LogEntry{
		AgentID:   agentID,
		Month:     month,
		Tokens:    requestedTokens,
		Granted:   true,
		Reason:    ReasonOK.String(),
		CreatedAt: now,
	}, pol.EnforcedCap())
	if err != nil {
		return c.storeDeny(ctx, pol, agentID, month, requestedTokens, err), nil
	}
	if !applied {
		return c.denyWithRecord(ctx, pol, agentID, month, requestedTokens, ReasonMonthlyLimitExceeded, month.Next(), rec), nil
	}

	granted = true

	c.logger.Debug("request granted",
		"agent", agentID,
		"tokens", requestedTokens,
		"remaining", pol.Remaining(rec),
	)

	return &Decision{
		Granted:   true,
		Reason:    ReasonOK,
		Remaining: pol.Remaining(rec),
		Record:    rec,
		release:   release,
	}, nil
}

// windowReset is when a rolling-window denial relaxes: the moment the
// oldest granted entry still inside the window ages out. Zero when the
// window holds no grants, which means the request alone exceeds the
// slice and waiting will not help.
func (c *Controller) windowReset(ctx context.Context, agentID string, now time.Time, window time.Duration) time.Time {
	oldest, err := c.store.OldestGrantedSince(ctx, agentID, now.Add(-window))
	if err != nil || oldest.IsZero() {
		return time.Time{}
	}
	return oldest.Add(window)
}

// deny finalizes a denial: audit log entry, warning log, structured
// decision. The audit write is best effort; a dead store must not turn
// a denial into an error.
func (c *Controller) deny(ctx context.Context, pol *policy.Policy, agentID string, month ledger.Month, tokens int64, reason Reason, reset time.Time) *Decision {
	rec, err := c.store.RecordUsage(ctx, &ledger.LogEntry{
		AgentID: agentID,
		Month:   month,
		Tokens:  tokens,
		Granted: false,
		Reason:  reason.String(),
	}, pol.EnforcedCap())
	if err != nil {
		c.logger.Error("failed to audit denial", "agent", agentID, "reason", reason, "error", err)
	}

	c.logger.Warn("request denied",
		"agent", agentID,
		"tokens", tokens,
		"reason", reason,
	)

	d := &Decision{
		Granted:   false,
		Reason:    reason,
		ResetTime: reset,
		Record:    rec,
	}
	if rec != nil {
		d.Remaining = pol.Remaining(rec)
	}
	return d
}

func (c *Controller) denyWithRecord(ctx context.Context, pol *policy.Policy, agentID string, month ledger.Month, tokens int64, reason Reason, reset time.Time, rec *ledger.UsageRecord) *Decision {
	d := c.deny(ctx, pol, agentID, month, tokens, reason, reset)
	if d.Record == nil {
		d.Record = rec
		d.Remaining = pol.Remaining(rec)
	}
	return d
}

// storeDeny maps a ledger failure to the fail-closed store_unavailable
// denial. Unexpected (non-transient) errors still deny; granting on a
// broken store is never acceptable.
func (c *Controller) storeDeny(ctx context.Context, pol *policy.Policy, agentID string, month ledger.Month, tokens int64, err error) *Decision {
	c.logger.Error("ledger unavailable, failing closed", "agent", agentID, "error", err)
	return c.deny(ctx, pol, agentID, month, tokens, ReasonStoreUnavailable, time.Time{})
}

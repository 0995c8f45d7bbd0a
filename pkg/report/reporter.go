// Package report provides read-only aggregation over the usage ledger
// for dashboards, CLIs, and alerting.
//
// Nothing here has side effects: every call reads a consistent ledger
// snapshot and computes derived figures through the pure policy
// functions. Reports tolerate running concurrently with admission
// writes because the ledger's read path never takes the writer lock.
package report

import (
	"context"
	"sort"
	"time"

	"helios-hq/saturn/pkg/emergency"
	"helios-hq/saturn/pkg/ledger"
	"helios-hq/saturn/pkg/policy"
)

// Alert levels, as percentages of the enforced cap.
const (
	// WarningThresholdPercent flags agents approaching their budget.
	WarningThresholdPercent = 80.0

	// CriticalThresholdPercent flags agents close to exhaustion.
	CriticalThresholdPercent = 95.0
)

// ActiveWindow is the lookback used for the active-agent count.
const ActiveWindow = time.Hour

// AgentUsage is the reporting view of one agent's month.
type AgentUsage struct {
	AgentID       string        `json:"agent_id"`
	Month         ledger.Month  `json:"month"`
	TokensIn      int64         `json:"tokens_in"`
	TokensOut     int64         `json:"tokens_out"`
	TotalTokens   int64         `json:"total_tokens"`
	RequestCount  int64         `json:"request_count"`
	MonthlyLimit  int64         `json:"monthly_limit"`
	Remaining     int64         `json:"remaining"`
	UsagePercent  float64       `json:"usage_percentage"`
	Status        ledger.Status `json:"status"`
	LastRequestAt time.Time     `json:"last_request_at,omitzero"`
}

// Summary is the provider-wide usage view.
type Summary struct {
	Provider      string                 `json:"provider"`
	Month         ledger.Month           `json:"month"`
	TotalTokens   int64                  `json:"total_tokens"`
	TotalRequests int64                  `json:"total_requests"`
	ActiveAgents  int                    `json:"active_agents"`
	UsagePercent  float64                `json:"usage_percentage"`
	EnforcedCap   int64                  `json:"enforced_cap"`
	Emergency     *emergency.Status      `json:"emergency"`
	Agents        map[string]*AgentUsage `json:"agents"`
}

// AlertLevel classifies a usage alert.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert flags an agent approaching or past its budget.
type Alert struct {
	AgentID      string     `json:"agent_id"`
	Level        AlertLevel `json:"level"`
	UsagePercent float64    `json:"usage_percentage"`
	TotalTokens  int64      `json:"total_tokens"`
	Remaining    int64      `json:"remaining"`
}

// Reporter aggregates one provider's ledger.
type Reporter struct {
	provider string
	store    ledger.Store
	source   *policy.Source
	throttle *emergency.Throttle
	now      func() time.Time
}

// NewReporter creates a reporter. The throttle may be nil for
// providers that do not drive the emergency state.
func NewReporter(provider string, store ledger.Store, source *policy.Source, throttle *emergency.Throttle) *Reporter {
	return &Reporter{
		provider: provider,
		store:    store,
		source:   source,
		throttle: throttle,
		now:      time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	return r
}

// Agent returns the current-month usage view for one agent, or nil if
// the agent has no record this month.
func (r *Reporter) Agent(ctx context.Context, agentID string) (*AgentUsage, error) {
	rec, err := r.store.Snapshot(ctx, agentID, ledger.MonthOf(r.now()))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return r.view(rec), nil
}

// Summary returns the provider-wide view for the current month.
func (r *Reporter) Summary(ctx context.Context) (*Summary, error) {
	now := r.now()
	month := ledger.MonthOf(now)

	records, err := r.store.Snapshots(ctx, month)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Provider:    r.provider,
		Month:       month,
		EnforcedCap: r.source.Current().EnforcedCap(),
		Agents:      make(map[string]*AgentUsage, len(records)),
	}
	for id, rec := range records {
		summary.Agents[id] = r.view(rec)
		summary.TotalTokens += rec.TotalTokens
		summary.TotalRequests += rec.RequestCount
	}
	summary.UsagePercent = r.source.Current().GlobalUsagePercent(summary.TotalTokens)

	active, err := r.store.ActiveAgents(ctx, now.Add(-ActiveWindow))
	if err != nil {
		return nil, err
	}
	summary.ActiveAgents = active

	if r.throttle != nil {
		status, err := r.throttle.Status(ctx)
		if err != nil {
			return nil, err
		}
		summary.Emergency = status
	}

	return summary, nil
}

// Alerts returns agents at or past the warning threshold, most severe
// first.
func (r *Reporter) Alerts(ctx context.Context) ([]*Alert, error) {
	records, err := r.store.Snapshots(ctx, ledger.MonthOf(r.now()))
	if err != nil {
		return nil, err
	}

	pol := r.source.Current()
	var alerts []*Alert
	for id, rec := range records {
		pct := pol.UsagePercent(rec)
		if pct < WarningThresholdPercent {
			continue
		}
		level := AlertWarning
		if pct >= CriticalThresholdPercent {
			level = AlertCritical
		}
		alerts = append(alerts, &Alert{
			AgentID:      id,
			Level:        level,
			UsagePercent: pct,
			TotalTokens:  rec.TotalTokens,
			Remaining:    pol.Remaining(rec),
		})
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].UsagePercent > alerts[j].UsagePercent
	})
	return alerts, nil
}

func (r *Reporter) view(rec *ledger.UsageRecord) *AgentUsage {
	pol := r.source.Current()
	return &AgentUsage{
		AgentID:       rec.AgentID,
		Month:         rec.Month,
		TokensIn:      rec.TokensIn,
		TokensOut:     rec.TokensOut,
		TotalTokens:   rec.TotalTokens,
		RequestCount:  rec.RequestCount,
		MonthlyLimit:  rec.MonthlyLimit,
		Remaining:     pol.Remaining(rec),
		UsagePercent:  pol.UsagePercent(rec),
		Status:        rec.Status,
		LastRequestAt: rec.LastRequestAt,
	}
}

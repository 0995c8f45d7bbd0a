// Package emergency implements the system-wide throttle that protects
// the shared monthly ceiling during the final fraction of the budget
// period.
//
// The throttle is a derived boolean, recomputed on demand from the
// primary provider's aggregate ledger state. Nothing is stored: once
// aggregate usage drops (a new month starts, or usage is reset) the
// throttle deactivates by itself.
package emergency

import (
	"context"
	"time"

	"helios-hq/saturn/pkg/ledger"
	"helios-hq/saturn/pkg/policy"
)

// Throttle computes the emergency state from aggregate monthly usage
// against the policy's emergency threshold.
type Throttle struct {
	store  ledger.Store
	source *policy.Source
	now    func() time.Time
}

// Status is the observable emergency state.
type Status struct {
	// Active indicates the throttle is engaged: all non-allow-listed
	// requests are denied regardless of individual remaining budget.
	Active bool `json:"active"`

	// GlobalPercent is aggregate consumption across all agents as a
	// percentage of the enforced cap.
	GlobalPercent float64 `json:"global_percentage"`

	// GlobalTokens is the aggregate monthly token total.
	GlobalTokens int64 `json:"global_tokens"`

	// EnforcedCap is the cap the percentage is measured against.
	EnforcedCap int64 `json:"enforced_cap"`

	// Threshold is the activation fraction from the active policy.
	Threshold float64 `json:"threshold"`
}

// NewThrottle creates a throttle over the primary provider's ledger.
func NewThrottle(store ledger.Store, source *policy.Source) *Throttle {
	return &Throttle{store: store, source: source, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (t *Throttle) WithClock(now func() time.Time) *Throttle {
	t.now = now
	return t
}

// Active reports whether aggregate usage has crossed the emergency
// threshold. A store failure propagates so callers fail closed.
func (t *Throttle) Active(ctx context.Context) (bool, error) {
	status, err := t.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.Active, nil
}

// Status returns the full emergency state for observability.
func (t *Throttle) Status(ctx context.Context) (*Status, error) {
	pol := t.source.Current()
	month := ledger.MonthOf(t.now())

	records, err := t.store.Snapshots(ctx, month)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, rec := range records {
		total += rec.TotalTokens
	}

	return &Status{
		Active:        pol.EmergencyActive(total),
		GlobalPercent: pol.GlobalUsagePercent(total),
		GlobalTokens:  total,
		EnforcedCap:   pol.EnforcedCap(),
		Threshold:     pol.EmergencyThreshold,
	}, nil
}

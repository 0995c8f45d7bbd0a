package policy

import (
	"fmt"
	"sync/atomic"
	"time"

	"helios-hq/saturn/pkg/ledger"
)

// Policy is the immutable budget configuration for one provider. All
// ceilings the admission controller enforces derive from these values;
// nothing else in the repository carries its own cap constants.
type Policy struct {
	// Provider names the downstream provider this policy budgets.
	Provider string

	// GlobalMonthlyCap is the raw monthly token limit shared by all
	// agents on this provider.
	GlobalMonthlyCap int64

	// SoftEnforcementRatio is the fraction of the raw cap that is
	// actually usable. The remainder is headroom so an estimate error
	// or in-flight overshoot never breaches the real provider limit.
	SoftEnforcementRatio float64

	// PerRequestCap is the maximum declared size of a single request.
	PerRequestCap int64

	// DailySlicePercent and HourlySlicePercent bound what one agent may
	// burn per rolling day/hour, as a percentage of the enforced cap.
	// When zero, the slice is the derived daily/hourly cap divided
	// evenly across the configured agents.
	DailySlicePercent  float64
	HourlySlicePercent float64

	// Cooldown is the minimum spacing between two granted requests
	// from the same agent.
	Cooldown time.Duration

	// MaxConcurrent bounds simultaneous in-flight downstream calls
	// across all agents; AcquireTimeout bounds how long a caller may
	// wait for a free slot before being denied.
	MaxConcurrent  int
	AcquireTimeout time.Duration

	// EmergencyThreshold is the fraction of the enforced cap at which
	// the system-wide throttle activates. AllowAgents may keep named
	// agents admissible during a throttle; it is empty by default.
	EmergencyThreshold float64
	AllowAgents        []string

	// FallbackThreshold is the usage fraction at which the fallback
	// coordinator preemptively shifts traffic away from this provider.
	FallbackThreshold float64

	// Agents is the fixed roster competing for this budget.
	Agents []string
}

// Validate reports every invalid field. A non-nil error is fatal at
// startup: a process must never run with a policy it cannot enforce.
func (p *Policy) Validate() error {
	if p.GlobalMonthlyCap <= 0 {
		return fmt.Errorf("global monthly cap must be positive, got %d", p.GlobalMonthlyCap)
	}
	if p.SoftEnforcementRatio <= 0 || p.SoftEnforcementRatio > 1 {
		return fmt.Errorf("soft enforcement ratio must be in (0, 1], got %g", p.SoftEnforcementRatio)
	}
	if p.PerRequestCap <= 0 {
		return fmt.Errorf("per-request cap must be positive, got %d", p.PerRequestCap)
	}
	if p.DailySlicePercent < 0 || p.DailySlicePercent > 100 {
		return fmt.Errorf("daily slice percent must be in [0, 100], got %g", p.DailySlicePercent)
	}
	if p.HourlySlicePercent < 0 || p.HourlySlicePercent > 100 {
		return fmt.Errorf("hourly slice percent must be in [0, 100], got %g", p.HourlySlicePercent)
	}
	if p.Cooldown < 0 {
		return fmt.Errorf("cooldown cannot be negative, got %s", p.Cooldown)
	}
	if p.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent requests must be positive, got %d", p.MaxConcurrent)
	}
	if p.AcquireTimeout <= 0 {
		return fmt.Errorf("slot acquire timeout must be positive, got %s", p.AcquireTimeout)
	}
	if p.EmergencyThreshold <= 0 || p.EmergencyThreshold > 1 {
		return fmt.Errorf("emergency threshold must be in (0, 1], got %g", p.EmergencyThreshold)
	}
	if p.FallbackThreshold <= 0 || p.FallbackThreshold > 1 {
		return fmt.Errorf("fallback threshold must be in (0, 1], got %g", p.FallbackThreshold)
	}
	if len(p.Agents) == 0 {
		return fmt.Errorf("agent roster cannot be empty")
	}
	return nil
}

// EnforcedCap returns the usable monthly token limit:
// GlobalMonthlyCap * SoftEnforcementRatio.
func (p *Policy) EnforcedCap() int64 {
	return int64(float64(p.GlobalMonthlyCap) * p.SoftEnforcementRatio)
}

// DailyCap returns the enforced cap spread over the days of the month
// containing now.
func (p *Policy) DailyCap(now time.Time) int64 {
	return p.EnforcedCap() / int64(daysInMonth(now))
}

// HourlyCap returns DailyCap spread over 24 hours.
func (p *Policy) HourlyCap(now time.Time) int64 {
	return p.DailyCap(now) / 24
}

// AgentDailyCap returns the rolling-day ceiling for a single agent:
// the configured slice percentage of the enforced cap, or an even
// division of DailyCap across the roster when no percentage is set.
func (p *Policy) AgentDailyCap(now time.Time) int64 {
	if p.DailySlicePercent > 0 {
		return int64(float64(p.EnforcedCap()) * p.DailySlicePercent / 100)
	}
	return p.DailyCap(now) / int64(len(p.Agents))
}

// AgentHourlyCap returns the rolling-hour ceiling for a single agent.
func (p *Policy) AgentHourlyCap(now time.Time) int64 {
	if p.HourlySlicePercent > 0 {
		return int64(float64(p.EnforcedCap()) * p.HourlySlicePercent / 100)
	}
	return p.HourlyCap(now) / int64(len(p.Agents))
}

// Remaining returns the enforced-cap headroom left on the record,
// floored at zero. The record's own snapshot governs the hard monthly
// invariant; Remaining is computed against the live enforced cap so a
// raised cap takes effect without touching history.
func (p *Policy) Remaining(rec *ledger.UsageRecord) int64 {
	remaining := p.EnforcedCap() - rec.TotalTokens
	if remaining < 0 {
		return 0
	}
	return remaining
}

// UsagePercent returns the record's consumption as a percentage of the
// enforced cap.
func (p *Policy) UsagePercent(rec *ledger.UsageRecord) float64 {
	return p.GlobalUsagePercent(rec.TotalTokens)
}

// GlobalUsagePercent returns totalTokens as a percentage of the
// enforced cap.
func (p *Policy) GlobalUsagePercent(totalTokens int64) float64 {
	enforced := p.EnforcedCap()
	if enforced <= 0 {
		return 0
	}
	return float64(totalTokens) / float64(enforced) * 100
}

// WithinRequestCap reports whether a single request of the declared
// size is admissible at all.
func (p *Policy) WithinRequestCap(requestedTokens int64) bool {
	return requestedTokens <= p.PerRequestCap
}

// EmergencyActive reports whether aggregate consumption has crossed
// the emergency threshold of the enforced cap.
func (p *Policy) EmergencyActive(globalTotal int64) bool {
	return float64(globalTotal) >= float64(p.EnforcedCap())*p.EmergencyThreshold
}

// EmergencyExempt reports whether the agent is on the emergency
// allow-list. The list is empty by default, so during a throttle every
// agent is denied.
func (p *Policy) EmergencyExempt(agentID string) bool {
	for _, a := range p.AllowAgents {
		if a == agentID {
			return true
		}
	}
	return false
}

// daysInMonth returns the number of calendar days in the month
// containing t, in UTC.
func daysInMonth(t time.Time) int {
	t = t.UTC()
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1).Day()
}

// Source holds the current policy behind an atomic pointer so reloads
// swap the whole value without corrupting in-flight decisions.
type Source struct {
	current atomic.Pointer[Policy]
}

// NewSource creates a Source seeded with the given policy.
func NewSource(p *Policy) *Source {
	s := &Source{}
	s.current.Store(p)
	return s
}

// Current returns the active policy. Callers must treat the returned
// value as read-only and must not retain it across reload boundaries
// longer than one decision.
func (s *Source) Current() *Policy {
	return s.current.Load()
}

// Swap atomically replaces the active policy.
func (s *Source) Swap(p *Policy) {
	s.current.Store(p)
}

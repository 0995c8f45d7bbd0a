package admission

import (
	"time"

	"helios-hq/saturn/pkg/ledger"
)

// Reason is the machine-readable code attached to every admission
// decision. Callers surface it directly, so operators can tell
// transient pressure (cooldown, concurrency) from genuine exhaustion.
type Reason string

const (
	// ReasonOK marks a granted request.
	ReasonOK Reason = "ok"

	// ReasonRequestTooLarge: the declared size exceeds the per-request cap.
	ReasonRequestTooLarge Reason = "request_too_large"

	// ReasonCooldownActive: the agent's last grant is too recent.
	ReasonCooldownActive Reason = "cooldown_active"

	// ReasonConcurrencyTimeout: no concurrency slot freed up within the
	// acquire timeout.
	ReasonConcurrencyTimeout Reason = "concurrency_timeout"

	// ReasonAgentSuspended: an operator suspended the agent for the month.
	ReasonAgentSuspended Reason = "agent_suspended"

	// ReasonMonthlyLimitExceeded: granting would exceed the enforced
	// monthly cap.
	ReasonMonthlyLimitExceeded Reason = "monthly_limit_exceeded"

	// ReasonDailyLimitExceeded: granting would push the agent's rolling
	// 24-hour consumption above its daily slice.
	ReasonDailyLimitExceeded Reason = "daily_limit_exceeded"

	// ReasonHourlyLimitExceeded: granting would push the agent's
	// rolling one-hour consumption above its hourly slice.
	ReasonHourlyLimitExceeded Reason = "hourly_limit_exceeded"

	// ReasonEmergencyThrottle: aggregate usage crossed the emergency
	// threshold and the agent is not allow-listed.
	ReasonEmergencyThrottle Reason = "emergency_throttle"

	// ReasonStoreUnavailable: the ledger could not be reached; the
	// request fails closed.
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// String returns the reason code.
func (r Reason) String() string { return string(r) }

// Message returns a short operator-facing description of the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonOK:
		return "granted"
	case ReasonRequestTooLarge:
		return "request exceeds per-request token cap"
	case ReasonCooldownActive:
		return "agent cooling down"
	case ReasonConcurrencyTimeout:
		return "no concurrency slot available"
	case ReasonAgentSuspended:
		return "agent suspended"
	case ReasonMonthlyLimitExceeded:
		return "monthly budget exhausted"
	case ReasonDailyLimitExceeded:
		return "daily budget slice exhausted"
	case ReasonHourlyLimitExceeded:
		return "hourly budget slice exhausted"
	case ReasonEmergencyThrottle:
		return "system in emergency throttle"
	case ReasonStoreUnavailable:
		return "usage store unavailable"
	default:
		return string(r)
	}
}

// Decision is the terminal result of one admission check.
type Decision struct {
	// Granted indicates whether the request may proceed.
	Granted bool

	// Reason is ReasonOK for grants, the denial code otherwise.
	Reason Reason

	// Remaining is the agent's monthly headroom after this decision.
	Remaining int64

	// ResetTime is when the binding constraint relaxes: the next month
	// boundary for monthly denials, the moment the oldest in-window
	// grant ages out for daily/hourly denials, the end of the cooldown
	// for cooldown denials. Zero when no meaningful reset applies.
	ResetTime time.Time

	// Record is the post-decision usage record when one was read.
	Record *ledger.UsageRecord

	// release frees the concurrency slot reserved for a grant.
	release func()
}

// Release frees the concurrency slot held by a granted decision. It is
// safe to call on denials and safe to call more than once; the slot is
// returned exactly once.
func (d *Decision) Release() {
	if d.release != nil {
		d.release()
	}
}

package ledger

import (
	"errors"
	"time"
)

// Month identifies a calendar month in "YYYY-MM" form. UsageRecords are
// keyed by (agent, month) so counters reset naturally at month
// boundaries without a scheduled job.
type Month string

// MonthOf returns the Month containing t, in UTC.
func MonthOf(t time.Time) Month {
	return Month(t.UTC().Format("2006-01"))
}

// Next returns the first instant of the following calendar month, in UTC.
// It is used to compute reset times for monthly denials.
func (m Month) Next() time.Time {
	t, err := time.Parse("2006-01", string(m))
	if err != nil {
		return time.Time{}
	}
	return t.AddDate(0, 1, 0)
}

// Status is the lifecycle state of a monthly usage record.
type Status string

const (
	// StatusActive means the agent may be granted further requests.
	StatusActive Status = "active"

	// StatusLimitReached means the monthly budget snapshot has been
	// consumed. The record keeps accepting audit entries but the
	// admission controller grants nothing further.
	StatusLimitReached Status = "limit_reached"

	// StatusSuspended means an operator disabled the agent for the
	// month. Only an explicit status change re-enables it.
	StatusSuspended Status = "suspended"
)

// UsageRecord is the durable counter row for one agent in one month.
//
// TotalTokens is monotonically non-decreasing. MonthlyLimit is a
// snapshot of the enforced cap taken when the row was created, so later
// policy changes do not retroactively invalidate history.
type UsageRecord struct {
	AgentID       string
	Month         Month
	TokensIn      int64
	TokensOut     int64
	TotalTokens   int64
	RequestCount  int64
	MonthlyLimit  int64
	LastRequestAt time.Time // zero if the agent has no granted request yet
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LogEntry is one append-only audit row, written when an admission
// decision is finalized. Entries are never mutated; the rolling
// daily/hourly window checks and the reporting layer both read from
// them rather than from cached counters.
type LogEntry struct {
	ID        string // uuid, assigned by the store if empty
	AgentID   string
	Month     Month
	RequestID string // caller-supplied correlation id, may be empty
	TokensIn  int64
	TokensOut int64
	Tokens    int64 // total requested/spent tokens for the decision
	Granted   bool
	Reason    string
	Model     string // downstream model, may be empty for denials
	CreatedAt time.Time
}

// ErrStoreUnavailable wraps any transient storage failure. Callers must
// treat it as "deny by default"; the admission controller maps it to
// the store_unavailable reason code.
var ErrStoreUnavailable = errors.New("usage store unavailable")

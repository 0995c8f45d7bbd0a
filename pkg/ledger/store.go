package ledger

import (
	"context"
	"time"
)

// Store defines the persistence contract for the usage ledger.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetOrCreate returns the usage record for (agentID, month),
	// creating it with zero counters and the given monthly limit
	// snapshot if absent. Insert-if-absent is atomic: a race between
	// two first accesses never creates two rows for the same key.
	GetOrCreate(ctx context.Context, agentID string, month Month, monthlyLimit int64) (*UsageRecord, error)

	// RecordUsage finalizes an admission decision: it appends the log
	// entry and, when the entry is granted, atomically increments the
	// token and request counters of the (agent, month) record. The
	// record is created with monthlyLimit as its snapshot if it does
	// not exist yet, and its status flips to limit_reached once the
	// counters meet the snapshot. Returns the post-update record.
	//
	// The counter update and the log append happen in one atomic
	// read-modify-write; two concurrent calls for the same agent never
	// lose an update.
	RecordUsage(ctx context.Context, entry *LogEntry, monthlyLimit int64) (*UsageRecord, error)

	// ReserveUsage is the conditional variant used for grants: the
	// counter increment and log append apply only if the new total
	// still fits the record's monthly limit snapshot and the record is
	// active. It returns the post-decision record and whether the
	// reservation applied. The condition is evaluated inside the same
	// atomic write as the increment, so N concurrent reservations can
	// never jointly overspend the snapshot.
	ReserveUsage(ctx context.Context, entry *LogEntry, monthlyLimit int64) (*UsageRecord, bool, error)

	// Snapshot returns the record for (agentID, month), or nil if the
	// agent has no record for that month.
	Snapshot(ctx context.Context, agentID string, month Month) (*UsageRecord, error)

	// Snapshots returns all records for the month, keyed by agent id.
	Snapshots(ctx context.Context, month Month) (map[string]*UsageRecord, error)

	// WindowUsage returns the sum of granted tokens for the agent over
	// log entries created at or after since. It is computed from the
	// log so window checks cannot drift from the audit trail.
	WindowUsage(ctx context.Context, agentID string, since time.Time) (int64, error)

	// OldestGrantedSince returns the creation time of the agent's
	// oldest granted log entry at or after since, or the zero time
	// when there is none. Window denials use it to compute when the
	// rolling constraint relaxes.
	OldestGrantedSince(ctx context.Context, agentID string, since time.Time) (time.Time, error)

	// ActiveAgents counts agents with at least one granted request at
	// or after since.
	ActiveAgents(ctx context.Context, since time.Time) (int, error)

	// SetStatus updates the status of an existing record. It is the
	// operator path for suspending or resuming an agent.
	SetStatus(ctx context.Context, agentID string, month Month, status Status) error

	// Reset zeroes the counters of an existing record and restores it
	// to active. Intended for tests and explicit operator resets.
	Reset(ctx context.Context, agentID string, month Month) error

	// LogEntriesBefore returns up to limit log entries created before
	// cutoff, oldest first. Used by the retention pruner to archive
	// rows before deleting them.
	LogEntriesBefore(ctx context.Context, cutoff time.Time, limit int) ([]*LogEntry, error)

	// DeleteLogBefore removes log entries created before cutoff and
	// returns the number deleted.
	DeleteLogBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases backend resources. The store must not be used
	// after Close.
	Close() error
}

// Package ledger implements the durable usage ledger for the token
// governance layer.
//
// The ledger is the single source of truth for token consumption. It
// maintains one UsageRecord per (agent, month) pair with monotonically
// non-decreasing counters, plus an append-only log with one entry per
// finalized admission decision. All other components derive their state
// from these two tables.
//
// Two backends implement the Store interface:
//
//   - SQLite (modernc.org/sqlite) for durable single-instance
//     deployments. Counter updates run inside a single transaction with
//     an upsert, so concurrent callers never lose an increment.
//   - In-memory, for tests and ephemeral use.
//
// Storage failures are reported wrapped in ErrStoreUnavailable so that
// callers can fail closed: an unreachable ledger always means "deny",
// never "grant".
package ledger

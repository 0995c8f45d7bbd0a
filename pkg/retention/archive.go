// Package retention prunes aged usage-log entries, optionally copying
// them into a cold archive database first so the audit trail survives
// pruning.
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"helios-hq/saturn/pkg/ledger"
)

// Archive is the cold store for pruned usage-log entries. It lives in
// its own SQLite file, separate from the live ledger, so archive writes
// never contend with the admission path.
type Archive struct {
	db   *sql.DB
	path string
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS usage_log_archive (
	id          TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	agent_id    TEXT NOT NULL,
	month       TEXT NOT NULL,
	request_id  TEXT NOT NULL DEFAULT '',
	tokens_in   INTEGER NOT NULL,
	tokens_out  INTEGER NOT NULL,
	tokens      INTEGER NOT NULL,
	granted     INTEGER NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	model       TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	archived_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archive_agent_created
	ON usage_log_archive (provider, agent_id, created_at);
`

// OpenArchive opens (creating if needed) the archive database at path.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize archive schema: %w", err)
	}

	return &Archive{db: db, path: path}, nil
}

// Store copies log entries into the archive. Re-archiving an entry is a
// no-op, so a prune cycle interrupted between archive and delete can
// safely run again.
func (a *Archive) Store(ctx context.Context, provider string, entries []*ledger.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO usage_log_archive
			(id, provider, agent_id, month, request_id, tokens_in, tokens_out,
			 tokens, granted, reason, model, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare archive insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, e := range entries {
		granted := 0
		if e.Granted {
			granted = 1
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, provider, e.AgentID, string(e.Month), e.RequestID,
			e.TokensIn, e.TokensOut, e.Tokens, granted, e.Reason, e.Model,
			e.CreatedAt.UnixMilli(), now,
		); err != nil {
			return fmt.Errorf("archive entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

// Count returns the number of archived entries for a provider.
func (a *Archive) Count(ctx context.Context, provider string) (int64, error) {
	var n int64
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_log_archive WHERE provider = ?`, provider,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count archive entries: %w", err)
	}
	return n, nil
}

// Close closes the archive database.
func (a *Archive) Close() error {
	return a.db.Close()
}

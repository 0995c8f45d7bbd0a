package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// DB wraps the SQLite database shared by all provider-scoped stores.
//
// Writes go through a single-connection pool (SQLite supports one
// writer) while reads use a separate pool against the same file, so
// reporting queries see consistent WAL snapshots without blocking
// writers.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	path   string

	done      chan struct{}
	closeOnce sync.Once
}

// DBConfig configures the ledger database.
type DBConfig struct {
	// Path is the SQLite database file.
	Path string

	// BusyTimeout is how long writers wait for the file lock before
	// failing. Default: 5 seconds.
	BusyTimeout time.Duration

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5 minutes.
	CheckpointInterval time.Duration
}

// Open opens (creating if necessary) the ledger database with default
// settings.
func Open(path string) (*DB, error) {
	return OpenWithConfig(DBConfig{Path: path})
}

// OpenWithConfig opens the ledger database with custom configuration.
func OpenWithConfig(cfg DBConfig) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("ledger db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}

	// The _pragma form is what this driver understands, and it runs on
	// every pooled connection, so the reader pool gets the same
	// busy_timeout as the writer.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	writer.SetMaxOpenConns(1) // SQLite only supports a single writer
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to open ledger read pool: %w", err)
	}
	reader.SetMaxOpenConns(4)

	db := &DB{
		writer: writer,
		reader: reader,
		path:   cfg.Path,
		done:   make(chan struct{}),
	}

	if err := db.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	go db.checkpointLoop(cfg.CheckpointInterval)

	return db, nil
}

// Provider returns a Store scoped to the named provider. Records and
// log entries written through it are invisible to stores scoped to
// other providers, which keeps each provider independently budgeted.
func (db *DB) Provider(name string) Store {
	return &sqliteStore{db: db, provider: name}
}

// Close checkpoints the WAL and releases both connection pools. It is
// idempotent.
func (db *DB) Close() error {
	var closeErr error
	db.closeOnce.Do(func() {
		close(db.done)
		if db.reader != nil {
			db.reader.Close()
		}
		if db.writer != nil {
			_, _ = db.writer.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = db.writer.Close()
		}
	})
	return closeErr
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		provider        TEXT NOT NULL,
		agent_id        TEXT NOT NULL,
		month           TEXT NOT NULL,
		tokens_in       INTEGER NOT NULL DEFAULT 0,
		tokens_out      INTEGER NOT NULL DEFAULT 0,
		total_tokens    INTEGER NOT NULL DEFAULT 0,
		request_count   INTEGER NOT NULL DEFAULT 0,
		monthly_limit   INTEGER NOT NULL,
		last_request_at INTEGER,
		status          TEXT NOT NULL DEFAULT 'active',
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL,
		PRIMARY KEY (provider, agent_id, month)
	);

	CREATE INDEX IF NOT EXISTS idx_usage_records_month
		ON usage_records(provider, month);

	CREATE TABLE IF NOT EXISTS usage_log (
		id           TEXT PRIMARY KEY,
		provider     TEXT NOT NULL,
		agent_id     TEXT NOT NULL,
		month        TEXT NOT NULL,
		request_id   TEXT,
		tokens_in    INTEGER NOT NULL DEFAULT 0,
		tokens_out   INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		granted      INTEGER NOT NULL,
		reason       TEXT NOT NULL,
		model        TEXT,
		created_at   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_log_agent_created
		ON usage_log(provider, agent_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_usage_log_created
		ON usage_log(provider, created_at);
	`

	_, err := db.writer.Exec(schema)
	return err
}

func (db *DB) checkpointLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = db.writer.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-db.done:
			return
		}
	}
}

// sqliteStore implements Store for one provider scope.
type sqliteStore struct {
	db       *DB
	provider string
}

// storeErr wraps a backend failure in ErrStoreUnavailable so callers
// can fail closed with errors.Is.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func (s *sqliteStore) GetOrCreate(ctx context.Context, agentID string, month Month, monthlyLimit int64) (*UsageRecord, error) {
	now := time.Now().UTC()

	// INSERT OR IGNORE makes first-access races benign: exactly one
	// insert wins the primary key, everyone reads the same row back.
	_, err := s.db.writer.ExecContext(ctx, `
		INSERT INTO usage_records
			(provider, agent_id, month, monthly_limit, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, agent_id, month) DO NOTHING`,
		s.provider, agentID, string(month), monthlyLimit, string(StatusActive),
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, storeErr("get or create usage record", err)
	}

	rec, err := s.Snapshot(ctx, agentID, month)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, storeErr("get or create usage record", sql.ErrNoRows)
	}
	return rec, nil
}

func (s *sqliteStore) RecordUsage(ctx context.Context, entry *LogEntry, monthlyLimit int64) (*UsageRecord, error) {
	rec, _, err := s.apply(ctx, entry, monthlyLimit, false)
	return rec, err
}

func (s *sqliteStore) ReserveUsage(ctx context.Context, entry *LogEntry, monthlyLimit int64) (*UsageRecord, bool, error) {
	return s.apply(ctx, entry, monthlyLimit, true)
}

// apply runs the usage write transaction. For conditional (reserve)
// writes the increment carries a fit predicate; when it does not apply,
// no log entry is written and applied is false so the caller can audit
// a denial instead.
func (s *sqliteStore) apply(ctx context.Context, entry *LogEntry, monthlyLimit int64, conditional bool) (*UsageRecord, bool, error) {
	if entry == nil {
		return nil, false, fmt.Errorf("log entry cannot be nil")
	}
	if entry.AgentID == "" {
		return nil, false, fmt.Errorf("log entry agent id cannot be empty")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Month == "" {
		entry.Month = MonthOf(entry.CreatedAt)
	}
	if entry.Tokens == 0 {
		entry.Tokens = entry.TokensIn + entry.TokensOut
	}

	now := entry.CreatedAt

	tx, err := s.db.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, storeErr("begin usage transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_records
			(provider, agent_id, month, monthly_limit, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, agent_id, month) DO NOTHING`,
		s.provider, entry.AgentID, string(entry.Month), monthlyLimit,
		string(StatusActive), now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, false, storeErr("ensure usage record", err)
	}

	applied := true
	if entry.Granted {
		// Single UPDATE so the increment is an atomic read-modify-write
		// against the row; the status flip and, for reservations, the
		// fit predicate ride the same statement.
		query := `
			UPDATE usage_records SET
				tokens_in     = tokens_in + ?,
				tokens_out    = tokens_out + ?,
				total_tokens  = total_tokens + ?,
				request_count = request_count + 1,
				last_request_at = ?,
				status = CASE
					WHEN status = ? AND total_tokens + ? >= monthly_limit THEN ?
					ELSE status
				END,
				updated_at = ?
			WHERE provider = ? AND agent_id = ? AND month = ?`
		args := []any{
			entry.TokensIn, entry.TokensOut, entry.Tokens,
			now.UnixMilli(),
			string(StatusActive), entry.Tokens, string(StatusLimitReached),
			now.UnixMilli(),
			s.provider, entry.AgentID, string(entry.Month),
		}
		if conditional {
			query += ` AND status = ? AND total_tokens + ? <= monthly_limit`
			args = append(args, string(StatusActive), entry.Tokens)
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, false, storeErr("increment usage counters", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, false, storeErr("increment usage counters", err)
		}
		applied = affected == 1
	}

	if applied {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO usage_log
				(id, provider, agent_id, month, request_id, tokens_in, tokens_out,
				 total_tokens, granted, reason, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, s.provider, entry.AgentID, string(entry.Month),
			entry.RequestID, entry.TokensIn, entry.TokensOut, entry.Tokens,
			boolToInt(entry.Granted), entry.Reason, entry.Model,
			now.UnixMilli(),
		)
		if err != nil {
			return nil, false, storeErr("append usage log", err)
		}
	}

	rec, err := scanRecord(tx.QueryRowContext(ctx, selectRecord+
		` WHERE provider = ? AND agent_id = ? AND month = ?`,
		s.provider, entry.AgentID, string(entry.Month)))
	if err != nil {
		return nil, false, storeErr("read back usage record", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, storeErr("commit usage transaction", err)
	}
	return rec, applied, nil
}

const selectRecord = `
	SELECT agent_id, month, tokens_in, tokens_out, total_tokens,
	       request_count, monthly_limit, last_request_at, status,
	       created_at, updated_at
	FROM usage_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*UsageRecord, error) {
	var (
		rec         UsageRecord
		month       string
		status      string
		lastRequest sql.NullInt64
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(&rec.AgentID, &month, &rec.TokensIn, &rec.TokensOut,
		&rec.TotalTokens, &rec.RequestCount, &rec.MonthlyLimit,
		&lastRequest, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.Month = Month(month)
	rec.Status = Status(status)
	if lastRequest.Valid {
		rec.LastRequestAt = time.UnixMilli(lastRequest.Int64).UTC()
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &rec, nil
}

func (s *sqliteStore) Snapshot(ctx context.Context, agentID string, month Month) (*UsageRecord, error) {
	rec, err := scanRecord(s.db.reader.QueryRowContext(ctx, selectRecord+
		` WHERE provider = ? AND agent_id = ? AND month = ?`,
		s.provider, agentID, string(month)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("read usage record", err)
	}
	return rec, nil
}

func (s *sqliteStore) Snapshots(ctx context.Context, month Month) (map[string]*UsageRecord, error) {
	rows, err := s.db.reader.QueryContext(ctx, selectRecord+
		` WHERE provider = ? AND month = ?`, s.provider, string(month))
	if err != nil {
		return nil, storeErr("list usage records", err)
	}
	defer rows.Close()

	records := make(map[string]*UsageRecord)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr("scan usage record", err)
		}
		records[rec.AgentID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate usage records", err)
	}
	return records, nil
}

func (s *sqliteStore) WindowUsage(ctx context.Context, agentID string, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := s.db.reader.QueryRowContext(ctx, `
		SELECT SUM(total_tokens) FROM usage_log
		WHERE provider = ? AND agent_id = ? AND granted = 1 AND created_at >= ?`,
		s.provider, agentID, since.UnixMilli(),
	).Scan(&total)
	if err != nil {
		return 0, storeErr("sum window usage", err)
	}
	return total.Int64, nil
}

func (s *sqliteStore) OldestGrantedSince(ctx context.Context, agentID string, since time.Time) (time.Time, error) {
	var oldest sql.NullInt64
	err := s.db.reader.QueryRowContext(ctx, `
		SELECT MIN(created_at) FROM usage_log
		WHERE provider = ? AND agent_id = ? AND granted = 1 AND created_at >= ?`,
		s.provider, agentID, since.UnixMilli(),
	).Scan(&oldest)
	if err != nil {
		return time.Time{}, storeErr("find oldest window entry", err)
	}
	if !oldest.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(oldest.Int64).UTC(), nil
}

func (s *sqliteStore) ActiveAgents(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.reader.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT agent_id) FROM usage_log
		WHERE provider = ? AND granted = 1 AND created_at >= ?`,
		s.provider, since.UnixMilli(),
	).Scan(&count)
	if err != nil {
		return 0, storeErr("count active agents", err)
	}
	return count, nil
}

func (s *sqliteStore) SetStatus(ctx context.Context, agentID string, month Month, status Status) error {
	res, err := s.db.writer.ExecContext(ctx, `
		UPDATE usage_records SET status = ?, updated_at = ?
		WHERE provider = ? AND agent_id = ? AND month = ?`,
		string(status), time.Now().UTC().UnixMilli(),
		s.provider, agentID, string(month),
	)
	if err != nil {
		return storeErr("set record status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("set record status", err)
	}
	if affected == 0 {
		return fmt.Errorf("no usage record for agent %q in %s", agentID, month)
	}
	return nil
}

func (s *sqliteStore) Reset(ctx context.Context, agentID string, month Month) error {
	res, err := s.db.writer.ExecContext(ctx, `
		UPDATE usage_records SET
			tokens_in = 0, tokens_out = 0, total_tokens = 0,
			request_count = 0, last_request_at = NULL,
			status = ?, updated_at = ?
		WHERE provider = ? AND agent_id = ? AND month = ?`,
		string(StatusActive), time.Now().UTC().UnixMilli(),
		s.provider, agentID, string(month),
	)
	if err != nil {
		return storeErr("reset usage record", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("reset usage record", err)
	}
	if affected == 0 {
		return fmt.Errorf("no usage record for agent %q in %s", agentID, month)
	}
	return nil
}

func (s *sqliteStore) LogEntriesBefore(ctx context.Context, cutoff time.Time, limit int) ([]*LogEntry, error) {
	rows, err := s.db.reader.QueryContext(ctx, `
		SELECT id, agent_id, month, request_id, tokens_in, tokens_out,
		       total_tokens, granted, reason, model, created_at
		FROM usage_log
		WHERE provider = ? AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?`,
		s.provider, cutoff.UnixMilli(), limit,
	)
	if err != nil {
		return nil, storeErr("list log entries", err)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var (
			e         LogEntry
			month     string
			requestID sql.NullString
			granted   int
			model     sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &month, &requestID,
			&e.TokensIn, &e.TokensOut, &e.Tokens, &granted, &e.Reason,
			&model, &createdAt); err != nil {
			return nil, storeErr("scan log entry", err)
		}
		e.Month = Month(month)
		e.RequestID = requestID.String
		e.Granted = granted != 0
		e.Model = model.String
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate log entries", err)
	}
	return entries, nil
}

func (s *sqliteStore) DeleteLogBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.writer.ExecContext(ctx, `
		DELETE FROM usage_log WHERE provider = ? AND created_at < ?`,
		s.provider, cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, storeErr("delete log entries", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("delete log entries", err)
	}
	return deleted, nil
}

// Close on a provider-scoped store is a no-op; the shared DB owns the
// connection pools.
func (s *sqliteStore) Close() error { return nil }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

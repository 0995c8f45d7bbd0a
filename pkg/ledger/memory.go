package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store using in-memory maps. All data is lost
// when the process exits; it exists for tests and ephemeral runs.
//
// MemoryStore is thread-safe. Every mutation happens under one mutex,
// which gives the same lost-update-free guarantee as the SQLite
// transaction, at the cost of serializing writers.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]*UsageRecord
	log     []*LogEntry

	// failing simulates an unreachable backend for fail-closed tests.
	failing bool
}

type recordKey struct {
	agentID string
	month   Month
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[recordKey]*UsageRecord),
	}
}

// SetFailing toggles simulated backend unavailability. While failing,
// every operation returns an error wrapping ErrStoreUnavailable.
func (m *MemoryStore) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

func (m *MemoryStore) checkAvailable() error {
	if m.failing {
		return fmt.Errorf("%w: memory store in failing mode", ErrStoreUnavailable)
	}
	return nil
}

func (m *MemoryStore) GetOrCreate(_ context.Context, agentID string, month Month, monthlyLimit int64) (*UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAvailable(); err != nil {
		return nil, err
	}
	rec := m.getOrCreateLocked(agentID, month, monthlyLimit)
	return copyRecord(rec), nil
}

func (m *MemoryStore) getOrCreateLocked(agentID string, month Month, monthlyLimit int64) *UsageRecord {
	key := recordKey{agentID: agentID, month: month}
	if rec, ok := m.records[key]; ok {
		return rec
	}
	now := time.Now().UTC()
	rec := &UsageRecord{
		AgentID:      agentID,
		Month:        month,
		MonthlyLimit: monthlyLimit,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.records[key] = rec
	return rec
}

func (m *MemoryStore) RecordUsage(ctx context.Context, entry *LogEntry, monthlyLimit int64) (*UsageRecord, error) {
	rec, _, err := m.apply(ctx, entry, monthlyLimit, false)
	return rec, err
}

func (m *MemoryStore) ReserveUsage(ctx context.Context, entry *LogEntry, monthlyLimit int64) (*UsageRecord, bool, error) {
	return m.apply(ctx, entry, monthlyLimit, true)
}

func (m *MemoryStore) apply(_ context.Context, entry *LogEntry, monthlyLimit int64, conditional bool) (*UsageRecord, bool, error) {
	if entry == nil {
		return nil, false, fmt.Errorf("log entry cannot be nil")
	}
	if entry.AgentID == "" {
		return nil, false, fmt.Errorf("log entry agent id cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAvailable(); err != nil {
		return nil, false, err
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

	rec := m.getOrCreateLocked(entry.AgentID, entry.Month, monthlyLimit)

	applied := true
	if entry.Granted {
		if conditional && (rec.Status != StatusActive || rec.TotalTokens+entry.Tokens > rec.MonthlyLimit) {
			applied = false
		} else {
			rec.TokensIn += entry.TokensIn
			rec.TokensOut += entry.TokensOut
			rec.TotalTokens += entry.Tokens
			rec.RequestCount++
			rec.LastRequestAt = entry.CreatedAt
			if rec.Status == StatusActive && rec.TotalTokens >= rec.MonthlyLimit {
				rec.Status = StatusLimitReached
			}
			rec.UpdatedAt = entry.CreatedAt
		}
	} else {
		rec.UpdatedAt = entry.CreatedAt
	}

	if applied {
		stored := *entry
		m.log = append(m.log, &stored)
	}

	return copyRecord(rec), applied, nil
}

func (m *MemoryStore) Snapshot(_ context.Context, agentID string, month Month) (*UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkAvailable(); err != nil {
		return nil, err
	}
	rec, ok := m.records[recordKey{agentID: agentID, month: month}]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func (m *MemoryStore) Snapshots(_ context.Context, month Month) (map[string]*UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkAvailable(); err != nil {
		return nil, err
	}
	out := make(map[string]*UsageRecord)
	for key, rec := range m.records {
		if key.month == month {
			out[key.agentID] = copyRecord(rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) WindowUsage(_ context.Context, agentID string, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkAvailable(); err != nil {
		return 0, err
	}
	var total int64
	for _, e := range m.log {
		if e.AgentID == agentID && e.Granted && !e.CreatedAt.Before(since) {
			total += e.Tokens
		}
	}
	return total, nil
}

func (m *MemoryStore) OldestGrantedSince(_ context.Context, agentID string, since time.Time) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkAvailable(); err != nil {
		return time.Time{}, err
	}
	var oldest time.Time
	for _, e := range m.log {
		if e.AgentID == agentID && e.Granted && !e.CreatedAt.Before(since) {
			if oldest.IsZero() || e.CreatedAt.Before(oldest) {
				oldest = e.CreatedAt
			}
		}
	}
	return oldest, nil
}

func (m *MemoryStore) ActiveAgents(_ context.Context, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkAvailable(); err != nil {
		return 0, err
	}
	agents := make(map[string]struct{})
	for _, e := range m.log {
		if e.Granted && !e.CreatedAt.Before(since) {
			agents[e.AgentID] = struct{}{}
		}
	}
	return len(agents), nil
}

func (m *MemoryStore) SetStatus(_ context.Context, agentID string, month Month, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAvailable(); err != nil {
		return err
	}
	rec, ok := m.records[recordKey{agentID: agentID, month: month}]
	if !ok {
		return fmt.Errorf("no usage record for agent %q in %s", agentID, month)
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) Reset(_ context.Context, agentID string, month Month) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAvailable(); err != nil {
		return err
	}
	rec, ok := m.records[recordKey{agentID: agentID, month: month}]
	if !ok {
		return fmt.Errorf("no usage record for agent %q in %s", agentID, month)
	}
	rec.TokensIn = 0
	rec.TokensOut = 0
	rec.TotalTokens = 0
	rec.RequestCount = 0
	rec.LastRequestAt = time.Time{}
	rec.Status = StatusActive
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) LogEntriesBefore(_ context.Context, cutoff time.Time, limit int) ([]*LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkAvailable(); err != nil {
		return nil, err
	}
	var entries []*LogEntry
	for _, e := range m.log {
		if e.CreatedAt.Before(cutoff) {
			copied := *e
			entries = append(entries, &copied)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *MemoryStore) DeleteLogBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAvailable(); err != nil {
		return 0, err
	}
	kept := m.log[:0]
	var deleted int64
	for _, e := range m.log {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.log = kept
	return deleted, nil
}

func (m *MemoryStore) Close() error { return nil }

func copyRecord(rec *UsageRecord) *UsageRecord {
	copied := *rec
	return &copied
}

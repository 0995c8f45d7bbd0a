package retention

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"helios-hq/saturn/pkg/ledger"
)

func seedEntries(t *testing.T, store ledger.Store, agent string, createdAt time.Time, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		_, err := store.RecordUsage(context.Background(), &ledger.LogEntry{
			AgentID:   agent,
			Month:     ledger.MonthOf(createdAt),
			Tokens:    10,
			Granted:   true,
			Reason:    "ok",
			CreatedAt: createdAt.Add(time.Duration(i) * time.Second),
		}, 1_000_000)
		if err != nil {
			t.Fatalf("RecordUsage() error: %v", err)
		}
	}
}

func TestPruner_DeletesPastRetention(t *testing.T) {
	store := ledger.NewMemoryStore()
	now := time.Date(2026, time.June, 10, 12, 0, 0, 0, time.UTC)

	seedEntries(t, store, "imperium", now.AddDate(0, 0, -100), 5) // stale
	seedEntries(t, store, "imperium", now.AddDate(0, 0, -10), 3)  // recent

	cfg := DefaultConfig()
	pruner, err := NewPruner([]Target{{Provider: "anthropic", Store: store}}, cfg, slog.Default())
	if err != nil {
		t.Fatalf("NewPruner() error: %v", err)
	}
	defer pruner.Close()
	pruner.WithClock(func() time.Time { return now })

	deleted, err := pruner.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if deleted != 5 {
		t.Errorf("Prune() deleted %d entries, want 5", deleted)
	}

	remaining, err := store.LogEntriesBefore(context.Background(), now, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 3 {
		t.Errorf("%d entries survive, want 3", len(remaining))
	}
}

func TestPruner_ZeroRetentionDisablesPruning(t *testing.T) {
	store := ledger.NewMemoryStore()
	now := time.Now().UTC()
	seedEntries(t, store, "imperium", now.AddDate(0, 0, -400), 4)

	cfg := DefaultConfig()
	cfg.RetentionDays = 0
	pruner, err := NewPruner([]Target{{Provider: "anthropic", Store: store}}, cfg, slog.Default())
	if err != nil {
		t.Fatalf("NewPruner() error: %v", err)
	}
	defer pruner.Close()

	deleted, err := pruner.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if deleted != 0 {
		t.Errorf("disabled pruner deleted %d entries", deleted)
	}
}

func TestPruner_ContinuesPastFailingTarget(t *testing.T) {
	broken := ledger.NewMemoryStore()
	broken.SetFailing(true)
	healthy := ledger.NewMemoryStore()
	now := time.Now().UTC()
	seedEntries(t, healthy, "imperium", now.AddDate(0, 0, -100), 2)

	pruner, err := NewPruner([]Target{
		{Provider: "anthropic", Store: broken},
		{Provider: "openai", Store: healthy},
	}, DefaultConfig(), slog.Default())
	if err != nil {
		t.Fatalf("NewPruner() error: %v", err)
	}
	defer pruner.Close()

	deleted, err := pruner.Prune(context.Background())
	if err == nil {
		t.Error("Prune() should surface the failing target")
	}
	if deleted != 2 {
		t.Errorf("healthy target pruned %d entries, want 2", deleted)
	}
}

func TestPruner_ArchivesBeforeDelete(t *testing.T) {
	store := ledger.NewMemoryStore()
	now := time.Date(2026, time.June, 10, 12, 0, 0, 0, time.UTC)
	seedEntries(t, store, "imperium", now.AddDate(0, 0, -100), 7)
	seedEntries(t, store, "guardian", now.AddDate(0, 0, -95), 2)

	cfg := DefaultConfig()
	cfg.ArchiveBeforeDelete = true
	cfg.ArchivePath = filepath.Join(t.TempDir(), "archive.db")
	cfg.BatchSize = 4 // force multiple passes

	pruner, err := NewPruner([]Target{{Provider: "anthropic", Store: store}}, cfg, slog.Default())
	if err != nil {
		t.Fatalf("NewPruner() error: %v", err)
	}
	defer pruner.Close()
	pruner.WithClock(func() time.Time { return now })

	deleted, err := pruner.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if deleted != 9 {
		t.Errorf("Prune() deleted %d entries, want 9", deleted)
	}

	archive, err := OpenArchive(cfg.ArchivePath)
	if err != nil {
		t.Fatalf("OpenArchive() error: %v", err)
	}
	defer archive.Close()

	count, err := archive.Count(context.Background(), "anthropic")
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 9 {
		t.Errorf("archive holds %d entries, want 9", count)
	}
}

func TestArchive_StoreIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	archive, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive() error: %v", err)
	}
	defer archive.Close()
	ctx := context.Background()

	entries := []*ledger.LogEntry{
		{ID: "e1", AgentID: "imperium", Month: "2026-03", Tokens: 10, Granted: true, Reason: "ok", CreatedAt: time.Now().UTC()},
		{ID: "e2", AgentID: "guardian", Month: "2026-03", Tokens: 20, Granted: false, Reason: "monthly_limit_exceeded", CreatedAt: time.Now().UTC()},
	}
	if err := archive.Store(ctx, "anthropic", entries); err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	// An interrupted prune may re-archive the same batch.
	if err := archive.Store(ctx, "anthropic", entries); err != nil {
		t.Fatalf("Store() retry error: %v", err)
	}

	count, err := archive.Count(ctx, "anthropic")
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 2 {
		t.Errorf("archive holds %d entries, want 2", count)
	}
}

func TestScheduler_EmptyScheduleIsNoOp(t *testing.T) {
	pruner, err := NewPruner(nil, DefaultConfig(), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer pruner.Close()

	s := NewScheduler(pruner, slog.Default())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if s.IsRunning() {
		t.Error("scheduler should not run without a schedule")
	}
	if s.NextRun() != nil {
		t.Error("NextRun() should be nil without a schedule")
	}
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PruneSchedule = "not a cron line"
	pruner, err := NewPruner(nil, cfg, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer pruner.Close()

	s := NewScheduler(pruner, slog.Default())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() should reject an invalid schedule")
	}
}

func TestScheduler_StartAndStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PruneSchedule = "0 3 * * *"
	pruner, err := NewPruner([]Target{{Provider: "anthropic", Store: ledger.NewMemoryStore()}}, cfg, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer pruner.Close()

	s := NewScheduler(pruner, slog.Default())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("scheduler should be running")
	}
	if s.NextRun() == nil {
		t.Error("NextRun() should be set for an active schedule")
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("scheduler should stop")
	}
}

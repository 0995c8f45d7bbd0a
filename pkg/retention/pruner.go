package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"helios-hq/saturn/pkg/ledger"
)

// Config controls the retention pruner.
type Config struct {
	// RetentionDays is how long usage-log entries are kept.
	// 0 disables pruning entirely.
	RetentionDays int

	// PruneSchedule is a cron expression for scheduled pruning,
	// e.g. "0 3 * * *" for daily at 3 AM. Empty disables the
	// scheduler; Prune can still be called manually.
	PruneSchedule string

	// ArchiveBeforeDelete copies entries into the archive database
	// before deletion.
	ArchiveBeforeDelete bool

	// ArchivePath is the archive database file. Required when
	// ArchiveBeforeDelete is set.
	ArchivePath string

	// BatchSize bounds how many entries are archived per pass.
	BatchSize int
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays:       90,
		PruneSchedule:       "",
		ArchiveBeforeDelete: false,
		ArchivePath:         "data/usage-archive.db",
		BatchSize:           1000,
	}
}

// Target is one provider's ledger as seen by the pruner.
type Target struct {
	Provider string
	Store    Store
}

// Store is the slice of the ledger contract the pruner needs.
type Store interface {
	LogEntriesBefore(ctx context.Context, cutoff time.Time, limit int) ([]*ledger.LogEntry, error)
	DeleteLogBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner enforces the retention period across all provider ledgers.
type Pruner struct {
	targets []Target
	config  *Config
	archive *Archive
	logger  *slog.Logger
	now     func() time.Time
}

// NewPruner creates a pruner over the given targets. It opens the
// archive database when archiving is enabled.
func NewPruner(targets []Target, config *Config, logger *slog.Logger) (*Pruner, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pruner{
		targets: targets,
		config:  config,
		logger:  logger.With("component", "retention"),
		now:     time.Now,
	}

	if config.ArchiveBeforeDelete {
		archive, err := OpenArchive(config.ArchivePath)
		if err != nil {
			return nil, err
		}
		p.archive = archive
	}

	return p, nil
}

// WithClock overrides the clock, for tests.
func (p *Pruner) WithClock(now func() time.Time) *Pruner {
	p.now = now
	return p
}

// Prune runs one pruning cycle over every target and returns the total
// number of deleted entries. A failure on one provider does not stop
// the others; the first error is returned after all targets ran.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.config.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := p.now().AddDate(0, 0, -p.config.RetentionDays)

	var total int64
	var firstErr error
	for _, t := range p.targets {
		deleted, err := p.pruneTarget(ctx, t, cutoff)
		total += deleted
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("prune %s: %w", t.Provider, err)
		}
	}

	if total > 0 {
		p.logger.Info("retention pruning completed",
			"deleted_count", total,
			"cutoff", cutoff,
			"retention_days", p.config.RetentionDays,
		)
	} else {
		p.logger.Debug("retention pruning completed, nothing to delete",
			"cutoff", cutoff,
		)
	}
	return total, firstErr
}

func (p *Pruner) pruneTarget(ctx context.Context, t Target, cutoff time.Time) (int64, error) {
	if p.archive == nil {
		deleted, err := t.Store.DeleteLogBefore(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("delete entries: %w", err)
		}
		return deleted, nil
	}

	batch := p.config.BatchSize
	if batch <= 0 {
		batch = 1000
	}
	var total int64
	for {
		entries, err := t.Store.LogEntriesBefore(ctx, cutoff, batch)
		if err != nil {
			return total, fmt.Errorf("list entries: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}
		if err := p.archive.Store(ctx, t.Provider, entries); err != nil {
			return total, err
		}
		// Delete only what was archived. Bounding the delete by the
		// batch's newest entry keeps archive and delete in lockstep.
		batchCutoff := entries[len(entries)-1].CreatedAt.Add(time.Millisecond)
		if batchCutoff.After(cutoff) {
			batchCutoff = cutoff
		}
		deleted, err := t.Store.DeleteLogBefore(ctx, batchCutoff)
		if err != nil {
			return total, fmt.Errorf("delete archived entries: %w", err)
		}
		total += deleted
		if len(entries) < batch {
			return total, nil
		}
	}
}

// Close releases the archive database, if open.
func (p *Pruner) Close() error {
	if p.archive != nil {
		return p.archive.Close()
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/edgecycle/internal/events"
)

// Run describes one process run.
type Run struct {
	ID            string
	StartedAt     time.Time
	EndedAt       time.Time // zero while running
	ConfigHash    string
	EngineVersion string
}

// BeginRun inserts a new run and returns its generated ID.
func (s *Store) BeginRun(ctx context.Context, startedAt time.Time, configHash, engineVersion string) (string, error) {
	id := s.runIDs.Generate()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, config_hash, engine_version)
		VALUES (?, ?, ?, ?)
	`, id, startedAt.UnixMilli(), configHash, engineVersion)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// EndRun records the end time of a run.
func (s *Store) EndRun(ctx context.Context, runID string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET ended_at = ? WHERE id = ?
	`, endedAt.UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("end run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// WriteSamples stores the changed channel values of one tick atomically.
// Uses ON CONFLICT DO NOTHING for idempotency - rewriting a tick is a
// no-op.
//
// Note: The run referenced by runID must exist (foreign key constraint).
func (s *Store) WriteSamples(ctx context.Context, runID string, tick uint64, at time.Time, samples []events.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write samples: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO channel_values (run_id, tick, ts, address, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, tick, address) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write samples: prepare: %w", err)
	}
	defer stmt.Close()

	ts := at.UnixMilli()
	for _, sample := range samples {
		value, err := marshalValue(sample.Value, sample.Defined)
		if err != nil {
			return fmt.Errorf("write samples: %s: %w", sample.Address, err)
		}
		if _, err := stmt.ExecContext(ctx, runID, int64(tick), ts, sample.Address, value); err != nil {
			return fmt.Errorf("write samples: %s: %w", sample.Address, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write samples: commit: %w", err)
	}
	return nil
}

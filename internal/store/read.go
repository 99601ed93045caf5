package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Record is one stored channel value.
type Record struct {
	Seq     int64
	RunID   string
	Tick    uint64
	Time    time.Time
	Address string
	Value   any
	Defined bool
}

// newestFirst orders values by run start, then tick. Reports may reach
// the recorder out of tick order, so insertion order (seq) only breaks
// ties.
const newestFirst = `r.started_at DESC, v.run_id COLLATE BINARY DESC, v.tick DESC, v.seq DESC`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Latest returns the value for address from the highest tick of the most
// recent run. Returns ErrNotFound if none exists.
func (s *Store) Latest(ctx context.Context, address string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT v.seq, v.run_id, v.tick, v.ts, v.address, v.value
		FROM channel_values v
		JOIN runs r ON r.id = v.run_id
		WHERE v.address = ?
		ORDER BY `+newestFirst+`
		LIMIT 1
	`, address)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("latest %s: %w", address, ErrNotFound)
	}
	return rec, err
}

// History returns up to limit of the most recent values for address in
// run and tick order, oldest first. A limit <= 0 returns everything.
//
// Returns an empty slice (not nil) if nothing was recorded.
func (s *Store) History(ctx context.Context, address string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.seq, v.run_id, v.tick, v.ts, v.address, v.value
		FROM channel_values v
		JOIN runs r ON r.id = v.run_id
		WHERE v.address = ?
		ORDER BY `+newestFirst+`
		LIMIT ?
	`, address, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	slices.Reverse(records)
	return records, nil
}

// Addresses returns every address with stored values, sorted.
func (s *Store) Addresses(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT address FROM channel_values ORDER BY address COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query addresses: %w", err)
	}
	defer rows.Close()

	addresses := []string{}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		addresses = append(addresses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate addresses: %w", err)
	}
	return addresses, nil
}

// Runs returns all runs in start order.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, config_hash, engine_version
		FROM runs
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r       Run
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &started, &ended, &r.ConfigHash, &r.EngineVersion); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if ended.Valid {
			r.EndedAt = time.UnixMilli(ended.Int64).UTC()
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRecord(s rowScanner) (Record, error) {
	var (
		rec   Record
		tick  int64
		ts    int64
		value sql.NullString
	)
	if err := s.Scan(&rec.Seq, &rec.RunID, &tick, &ts, &rec.Address, &value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.Tick = uint64(tick)
	rec.Time = time.UnixMilli(ts).UTC()

	v, defined, err := unmarshalValue(value)
	if err != nil {
		return Record{}, fmt.Errorf("record %d: %w", rec.Seq, err)
	}
	rec.Value, rec.Defined = v, defined
	return rec, nil
}

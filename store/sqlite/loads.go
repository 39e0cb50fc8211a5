package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/tetherbpf/tetherbpf/loader"
)

var _ loader.Recorder = (*Store)(nil)

// LoadEntry is one persisted load attempt.
type LoadEntry struct {
	Stage     string
	Object    string
	Outcome   string
	Detail    string
	Elapsed   time.Duration
	CreatedAt time.Time
}

// RecordLoad persists one load attempt.
func (s *Store) RecordLoad(ctx context.Context, rec loader.Record) error {
	_, err := s.stmtInsertLoad.ExecContext(ctx,
		rec.Stage, rec.Object, rec.Outcome, rec.Detail,
		rec.Elapsed.Microseconds(), timestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("insert load attempt: %w", err)
	}
	return nil
}

// Loads returns the most recent load attempts, newest first.
func (s *Store) Loads(ctx context.Context, limit int) ([]LoadEntry, error) {
	rows, err := s.stmtListLoads.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list load attempts: %w", err)
	}
	defer rows.Close()

	var out []LoadEntry
	for rows.Next() {
		var e LoadEntry
		var elapsedUS int64
		var created string
		if err := rows.Scan(&e.Stage, &e.Object, &e.Outcome, &e.Detail, &elapsedUS, &created); err != nil {
			return nil, fmt.Errorf("scan load attempt: %w", err)
		}
		e.Elapsed = time.Duration(elapsedUS) * time.Microsecond
		e.CreatedAt = parseTimestamp(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"time"
)

// MirrorRun records one copy of a stream from InfluxDB for auditing.
type MirrorRun struct {
	ID             int64
	StartedAt      time.Time
	FinishedAt     sql.NullTime
	Stream         string
	RangeStart     sql.NullTime
	RangeEnd       sql.NullTime
	RecordsFetched sql.NullInt64
	RecordsStored  sql.NullInt64
	Success        bool
	ErrorMessage   sql.NullString
}

// StartMirrorRun creates a new mirror run record and returns it.
func (s *Store) StartMirrorRun(ctx context.Context, stream string, start, end time.Time) (*MirrorRun, error) {
	run := &MirrorRun{
		StartedAt: time.Now().UTC(),
		Stream:    stream,
	}
	if !start.IsZero() {
		run.RangeStart = sql.NullTime{Time: start.UTC(), Valid: true}
	}
	if !end.IsZero() {
		run.RangeEnd = sql.NullTime{Time: end.UTC(), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO mirror_runs (started_at, stream, range_start, range_end, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.StartedAt, run.Stream, run.RangeStart, run.RangeEnd)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteMirrorRun updates the run with its results.
func (s *Store) CompleteMirrorRun(ctx context.Context, run *MirrorRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.ExecContext(ctx, `
		UPDATE mirror_runs SET
			finished_at = ?,
			records_fetched = ?,
			records_stored = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.RecordsFetched, run.RecordsStored, run.Success, run.ErrorMessage, run.ID)
	return err
}

// RecentMirrorRuns returns the newest runs first.
func (s *Store) RecentMirrorRuns(ctx context.Context, limit int) ([]MirrorRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, stream, range_start, range_end,
			   records_fetched, records_stored, success, error_message
		FROM mirror_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MirrorRun
	for rows.Next() {
		var r MirrorRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Stream, &r.RangeStart, &r.RangeEnd,
			&r.RecordsFetched, &r.RecordsStored, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

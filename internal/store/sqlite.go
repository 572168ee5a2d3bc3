package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/balancepoint/internal/metrics"
	"github.com/lox/balancepoint/internal/models"
	"github.com/lox/balancepoint/internal/tsdb"
)

// Store is a local SQLite mirror of raw readings. It answers the same daily
// queries as InfluxDB by evaluating them in memory.
type Store struct {
	db  *sql.DB
	loc *time.Location
}

func New(db *sql.DB, loc *time.Location) *Store {
	return &Store{db: db, loc: loc}
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string, loc *time.Location) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.ExecContext(ctx, "PRAGMA journal_mode=WAL")
	db.ExecContext(ctx, "PRAGMA busy_timeout=5000")

	s := New(db, loc)
	if _, err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertReadings stores valid points for the stream, skipping ones already
// present. It returns the number of new rows.
func (s *Store) InsertReadings(ctx context.Context, stream models.Stream, points []models.Point) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO readings (db_name, measurement, field, tags, observed_at, value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(db_name, measurement, field, tags, observed_at) DO NOTHING
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var stored int64
	tags := stream.TagKey()
	for _, p := range points {
		if !p.Value.Valid {
			continue
		}
		res, err := stmt.ExecContext(ctx, stream.Database, stream.Measurement, stream.Field, tags, p.Time.UnixNano(), p.Value.Float64)
		if err != nil {
			return stored, fmt.Errorf("insert reading %s at %s: %w", stream, p.Time.Format(time.RFC3339), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return stored, err
		}
		stored += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return stored, nil
}

// LatestReading returns the time of the newest stored reading of the stream.
func (s *Store) LatestReading(ctx context.Context, stream models.Stream) (time.Time, bool, error) {
	where, args := streamFilter(stream)
	var ns sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(observed_at) FROM readings WHERE "+where, args...).Scan(&ns)
	if err != nil {
		return time.Time{}, false, err
	}
	if !ns.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(0, ns.Int64).In(s.loc), true, nil
}

func (s *Store) Raw(ctx context.Context, stream models.Stream, start, end time.Time) ([]models.Point, error) {
	began := time.Now()
	points, err := s.raw(ctx, stream, start, end)
	metrics.ObserveQuery("sqlite", "raw", began, err)
	return points, err
}

func (s *Store) raw(ctx context.Context, stream models.Stream, start, end time.Time) ([]models.Point, error) {
	where, args := streamFilter(stream)
	if !start.IsZero() {
		where += " AND observed_at >= ?"
		args = append(args, start.UnixNano())
	}
	if !end.IsZero() {
		where += " AND observed_at < ?"
		args = append(args, end.UnixNano())
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT observed_at, value
		FROM readings
		WHERE `+where+`
		ORDER BY observed_at ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query readings %s: %w", stream, err)
	}
	defer rows.Close()

	var points []models.Point
	for rows.Next() {
		var ns int64
		var p models.Point
		if err := rows.Scan(&ns, &p.Value); err != nil {
			return nil, err
		}
		p.Time = time.Unix(0, ns).In(s.loc)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Store) Daily(ctx context.Context, q tsdb.Query) ([]models.Point, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	began := time.Now()
	raw, err := s.raw(ctx, q.Stream, q.Start, q.End)
	metrics.ObserveQuery("sqlite", string(q.Func), began, err)
	if err != nil {
		return nil, err
	}
	return tsdb.Evaluate(q, raw), nil
}

// streamFilter matches a stream's database, measurement and field, and
// requires each of its tags to be present in the stored tag set.
func streamFilter(stream models.Stream) (string, []any) {
	where := "db_name = ? AND measurement = ? AND field = ?"
	args := []any{stream.Database, stream.Measurement, stream.Field}

	if tk := stream.TagKey(); tk != "" {
		for _, kv := range strings.Split(tk, ",") {
			where += ` AND (',' || tags || ',') LIKE ? ESCAPE '\'`
			args = append(args, "%,"+escapeLike(kv)+",%")
		}
	}
	return where, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

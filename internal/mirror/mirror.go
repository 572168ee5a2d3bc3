// Package mirror copies raw readings from the live store into the local
// SQLite mirror so estimates can run offline.
package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lox/balancepoint/internal/log"
	"github.com/lox/balancepoint/internal/models"
	"github.com/lox/balancepoint/internal/store"
	"github.com/lox/balancepoint/internal/tsdb"
)

// Stats summarises one stream's copy.
type Stats struct {
	Stream  models.Stream
	From    time.Time
	Fetched int
	Stored  int64
}

type Mirror struct {
	source tsdb.Source
	store  *store.Store
}

func New(source tsdb.Source, st *store.Store) *Mirror {
	return &Mirror{source: source, store: st}
}

// Run copies each stream's readings in [start, end). Streams already in the
// mirror resume after their newest reading. The first failure stops the run.
func (m *Mirror) Run(ctx context.Context, streams []models.Stream, start, end time.Time) ([]Stats, error) {
	var all []Stats
	for _, s := range streams {
		stats, err := m.copyStream(ctx, s, start, end)
		if err != nil {
			return all, err
		}
		all = append(all, stats)
	}
	return all, nil
}

func (m *Mirror) copyStream(ctx context.Context, s models.Stream, start, end time.Time) (Stats, error) {
	stats := Stats{Stream: s, From: start}

	latest, ok, err := m.store.LatestReading(ctx, s)
	if err != nil {
		return stats, fmt.Errorf("mirror: latest reading %s: %w", s, err)
	}
	if ok && !latest.Before(stats.From) {
		stats.From = latest.Add(time.Nanosecond)
	}

	run, err := m.store.StartMirrorRun(ctx, s.String(), stats.From, end)
	if err != nil {
		return stats, fmt.Errorf("mirror: start run %s: %w", s, err)
	}

	points, err := m.source.Raw(ctx, s, stats.From, end)
	if err == nil {
		stats.Fetched = len(points)
		run.RecordsFetched = sql.NullInt64{Int64: int64(stats.Fetched), Valid: true}
		stats.Stored, err = m.store.InsertReadings(ctx, s, points)
	}

	run.Success = err == nil
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	} else {
		run.RecordsStored = sql.NullInt64{Int64: stats.Stored, Valid: true}
	}
	if cerr := m.store.CompleteMirrorRun(ctx, run); cerr != nil {
		log.Ctx(ctx).WarnContext(ctx, "mirror: complete run", "stream", s.String(), "error", cerr)
	}
	if err != nil {
		return stats, fmt.Errorf("mirror: copy %s: %w", s, err)
	}

	log.Ctx(ctx).InfoContext(ctx, "mirror: copied stream",
		"stream", s.String(),
		"from", stats.From.Format(time.RFC3339),
		"fetched", humanize.Comma(int64(stats.Fetched)),
		"stored", humanize.Comma(stats.Stored),
	)
	return stats, nil
}

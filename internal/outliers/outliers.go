// Package outliers guards the analysis against glitchy temperature sensors.
// A single bad reading from a 433MHz sensor can move a day's degree-days far
// enough to skew the fit, so the whole run is refused instead.
package outliers

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lox/balancepoint/internal/log"
	"github.com/lox/balancepoint/internal/models"
	"github.com/lox/balancepoint/internal/series"
	"github.com/lox/balancepoint/internal/tsdb"
)

const (
	DefaultMaxDiff      = 5.5
	DefaultMaxPctChange = 0.35
)

type Thresholds struct {
	MaxDiff      float64
	MaxPctChange float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{MaxDiff: DefaultMaxDiff, MaxPctChange: DefaultMaxPctChange}
}

// Report holds the largest jumps found between consecutive readings.
type Report struct {
	Readings   int
	MaxDiff    float64
	MaxDiffAt  time.Time
	MaxPct     float64
	MaxPctAt   time.Time
	HasChanges bool // false when there were fewer than two readings
}

// ViolationError is returned when a reading jumps further than allowed.
type ViolationError struct {
	Measure string // "diff" or "pct_change"
	Value   float64
	Limit   float64
	At      time.Time
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("outliers: %s of %.3g at %s reaches limit %.3g",
		e.Measure, e.Value, e.At.Format(time.RFC3339), e.Limit)
}

// Check computes the first difference and percentage change of consecutive
// valid readings and fails when either maximum reaches its threshold. The
// first reading has nothing to compare against and is not counted.
func Check(points []models.Point, th Thresholds) (Report, error) {
	report := Report{}
	for _, p := range points {
		if p.Value.Valid {
			report.Readings++
		}
	}

	diffMax, diffAt, ok := series.MaxAbs(series.Difference(points))
	if !ok {
		return report, nil
	}
	report.HasChanges = true
	report.MaxDiff, report.MaxDiffAt = diffMax, diffAt
	report.MaxPct, report.MaxPctAt, _ = series.MaxAbs(series.PctChange(points))

	if report.MaxDiff >= th.MaxDiff {
		return report, &ViolationError{Measure: "diff", Value: report.MaxDiff, Limit: th.MaxDiff, At: report.MaxDiffAt}
	}
	if report.MaxPct >= th.MaxPctChange {
		return report, &ViolationError{Measure: "pct_change", Value: report.MaxPct, Limit: th.MaxPctChange, At: report.MaxPctAt}
	}
	return report, nil
}

// Guard pulls the full history of a temperature stream and checks it.
type Guard struct {
	source     tsdb.Source
	stream     models.Stream
	thresholds Thresholds
}

func NewGuard(source tsdb.Source, stream models.Stream, th Thresholds) *Guard {
	return &Guard{source: source, stream: stream, thresholds: th}
}

func (g *Guard) Run(ctx context.Context) (Report, error) {
	points, err := g.source.Raw(ctx, g.stream, time.Time{}, time.Time{})
	if err != nil {
		return Report{}, fmt.Errorf("outliers: fetch %s: %w", g.stream, err)
	}

	report, err := Check(points, g.thresholds)
	log.Ctx(ctx).InfoContext(ctx, "outliers: checked readings",
		"stream", g.stream.String(),
		"readings", humanize.Comma(int64(report.Readings)),
		"max_diff", report.MaxDiff,
		"max_pct_change", report.MaxPct,
	)
	return report, err
}

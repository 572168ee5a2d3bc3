// Package analysis runs one balance-point estimate end to end: guard the
// temperature history, join the daily series, fit, print and plot.
package analysis

import (
	"context"
	"fmt"
	"io"

	"github.com/lox/balancepoint/internal/aggregate"
	"github.com/lox/balancepoint/internal/estimate"
	"github.com/lox/balancepoint/internal/log"
	"github.com/lox/balancepoint/internal/metrics"
	"github.com/lox/balancepoint/internal/models"
	"github.com/lox/balancepoint/internal/outliers"
	"github.com/lox/balancepoint/internal/plot"
	"github.com/lox/balancepoint/internal/tsdb"
)

type Config struct {
	Aggregate  aggregate.Config
	Thresholds outliers.Thresholds
	// Params.HeatOnly is taken from Aggregate.Features.
	Params   estimate.Params
	PlotPath string // empty skips writing the plot
	Plot     plot.Options
}

// Result is everything a run produced.
type Result struct {
	Outliers outliers.Report
	Days     []models.DailyObservation
	Estimate models.Estimate
	Plot     []byte
}

// Sink receives a finished result.
type Sink interface {
	Send(ctx context.Context, r Result) error
}

type SinkFunc func(ctx context.Context, r Result) error

func (f SinkFunc) Send(ctx context.Context, r Result) error { return f(ctx, r) }

type Runner struct {
	source tsdb.Source
	config Config
	out    io.Writer
	sinks  []Sink
}

func NewRunner(source tsdb.Source, config Config, out io.Writer, sinks ...Sink) *Runner {
	config.Params.HeatOnly = config.Aggregate.Features.HeatOnly
	return &Runner{source: source, config: config, out: out, sinks: sinks}
}

// Check runs the outlier guard on its own.
func (r *Runner) Check(ctx context.Context) (outliers.Report, error) {
	guard := outliers.NewGuard(r.source, r.config.Aggregate.Streams.Temperature, r.config.Thresholds)
	report, err := guard.Run(ctx)
	if report.HasChanges {
		metrics.RecordOutliers(report.MaxDiff, report.MaxPct)
	}
	return report, err
}

// Days joins the daily series and classifies each day's HVAC mode when
// runtime is part of the join.
func (r *Runner) Days(ctx context.Context) ([]models.DailyObservation, error) {
	days, err := aggregate.New(r.source, r.config.Aggregate).Run(ctx)
	if err != nil {
		return nil, err
	}
	if r.config.Aggregate.Features.IncludeHVAC {
		if err := estimate.ClassifyDays(days); err != nil {
			return nil, err
		}
		log.Ctx(ctx).DebugContext(ctx, "analysis: classified days", "modes", modeCounts(days))
	}
	return days, nil
}

// Run aborts on the first failure. Nothing is printed, plotted or sent
// unless the fit succeeds.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	var res Result
	var err error

	if res.Outliers, err = r.Check(ctx); err != nil {
		return res, err
	}
	if res.Days, err = r.Days(ctx); err != nil {
		return res, err
	}

	res.Estimate, err = estimate.Estimate(res.Days, r.config.Params)
	if err != nil {
		return res, fmt.Errorf("estimate over %d days: %w", len(res.Days), err)
	}
	metrics.RecordEstimate(res.Estimate, len(res.Days))
	log.Ctx(ctx).InfoContext(ctx, "analysis: fitted usage",
		"regressor", res.Estimate.Regressor,
		"slope", res.Estimate.Fit.Slope,
		"intercept", res.Estimate.Fit.Intercept,
		"r_squared", res.Estimate.Fit.RSquared,
		"days", res.Estimate.Fit.N,
	)

	if _, err := fmt.Fprintf(r.out, "Balance point: %.1f° F\n", res.Estimate.BalancePoint); err != nil {
		return res, fmt.Errorf("write result: %w", err)
	}

	res.Plot, err = plot.Render(res.Days, res.Estimate, r.config.Params, r.config.Plot)
	if err != nil {
		return res, err
	}
	if r.config.PlotPath != "" {
		if err := plot.WriteFile(r.config.PlotPath, res.Plot); err != nil {
			return res, err
		}
		log.Ctx(ctx).InfoContext(ctx, "analysis: wrote plot", "path", r.config.PlotPath)
	}

	for _, s := range r.sinks {
		if err := s.Send(ctx, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func modeCounts(days []models.DailyObservation) map[models.Mode]int {
	counts := make(map[models.Mode]int)
	for _, d := range days {
		counts[d.Mode]++
	}
	return counts
}

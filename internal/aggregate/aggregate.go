// Package aggregate turns sensor and meter streams into one row of daily
// observations per local calendar day.
package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/balancepoint/internal/log"
	"github.com/lox/balancepoint/internal/models"
	"github.com/lox/balancepoint/internal/series"
	"github.com/lox/balancepoint/internal/tsdb"
)

const (
	DefaultSample       = 10 * time.Minute
	DefaultBucket       = 24 * time.Hour
	DefaultMeterDivisor = 100 // meter counts are hundredths of a CCF
)

// Column names, as they appear in logs and the daily table.
const (
	ColumnDegreeDays      = "degree_days"
	ColumnMeanTemperature = "mean_temperature"
	ColumnGas             = "gas_usage_ccf"
	ColumnElectric        = "electric_usage_kwh"
	ColumnHeat            = "heat_seconds"
	ColumnCool            = "cool_seconds"
)

// Streams names where each input lives in the store.
type Streams struct {
	Temperature models.Stream
	Gas         models.Stream
	Electric    models.Stream
	Heat        models.Stream
	Cool        models.Stream
}

type Config struct {
	Streams         Streams
	Start           time.Time
	End             time.Time
	Location        *time.Location
	BaseTemperature float64
	Sample          time.Duration
	Bucket          time.Duration
	MeterDivisor    float64
	Features        Features
}

func (c Config) Validate() error {
	if c.Location == nil {
		return fmt.Errorf("aggregate: location is required")
	}
	if !c.End.After(c.Start) {
		return fmt.Errorf("aggregate: end %s is not after start %s",
			c.End.Format(time.DateOnly), c.Start.Format(time.DateOnly))
	}
	if c.Sample <= 0 || c.Bucket <= 0 || c.Bucket%c.Sample != 0 {
		return fmt.Errorf("aggregate: sample width %s must divide bucket width %s", c.Sample, c.Bucket)
	}
	return c.Features.Validate()
}

// Column is one daily series and where its values go in an observation.
type Column struct {
	Name  string
	Query tsdb.Query
	set   func(*models.DailyObservation, float64)
}

// Columns returns the queries for every column the features ask for. The
// first column is always degree-days, which the others are joined onto.
func (c Config) Columns() []Column {
	sampled := func(s models.Stream, base sql.NullFloat64) tsdb.Query {
		return tsdb.Query{
			Stream:   s,
			Start:    c.Start,
			End:      c.End,
			Location: c.Location,
			Sample:   c.Sample,
			Base:     base,
			Func:     tsdb.FuncSum,
			Bucket:   c.Bucket,
			Divisor:  float64(c.Bucket / c.Sample),
		}
	}
	daily := func(s models.Stream, fn tsdb.Func, divisor float64) tsdb.Query {
		return tsdb.Query{
			Stream:   s,
			Start:    c.Start,
			End:      c.End,
			Location: c.Location,
			Func:     fn,
			Bucket:   c.Bucket,
			Divisor:  divisor,
		}
	}

	base := sql.NullFloat64{Float64: c.BaseTemperature, Valid: true}
	cols := []Column{
		{ColumnDegreeDays, sampled(c.Streams.Temperature, base), func(d *models.DailyObservation, v float64) { d.DegreeDays = v }},
		{ColumnMeanTemperature, sampled(c.Streams.Temperature, sql.NullFloat64{}), func(d *models.DailyObservation, v float64) { d.MeanTemperature = v }},
		{ColumnGas, daily(c.Streams.Gas, tsdb.FuncDifferenceLast, c.MeterDivisor), func(d *models.DailyObservation, v float64) { d.GasUsageCCF = v }},
	}
	if c.Features.IncludeElectric {
		cols = append(cols, Column{ColumnElectric, daily(c.Streams.Electric, tsdb.FuncDifferenceLast, c.MeterDivisor),
			func(d *models.DailyObservation, v float64) { d.ElectricUsageKWh = v }})
	}
	if c.Features.IncludeHVAC {
		cols = append(cols,
			Column{ColumnHeat, daily(c.Streams.Heat, tsdb.FuncSum, 1), func(d *models.DailyObservation, v float64) { d.HeatSeconds = v }},
			Column{ColumnCool, daily(c.Streams.Cool, tsdb.FuncSum, 1), func(d *models.DailyObservation, v float64) { d.CoolSeconds = v }},
		)
	}
	return cols
}

// Result is a column's daily series as returned by the store.
type Result struct {
	Column Column
	Points []models.Point
}

type Aggregator struct {
	source tsdb.Source
	config Config
}

func New(source tsdb.Source, config Config) *Aggregator {
	return &Aggregator{source: source, config: config}
}

// Run queries every column in turn and joins them. Days missing any column
// are dropped.
func (a *Aggregator) Run(ctx context.Context) ([]models.DailyObservation, error) {
	if err := a.config.Validate(); err != nil {
		return nil, err
	}
	logger := log.Ctx(ctx)

	var results []Result
	for _, col := range a.config.Columns() {
		points, err := a.source.Daily(ctx, col.Query)
		if err != nil {
			return nil, fmt.Errorf("aggregate: query %s: %w", col.Name, err)
		}
		valid := countValid(points)
		if valid == 0 {
			logger.WarnContext(ctx, "aggregate: column has no data, every day will be dropped",
				"column", col.Name, "stream", col.Query.Stream.String())
		} else {
			logger.DebugContext(ctx, "aggregate: fetched column",
				"column", col.Name, "days", len(points), "valid", valid)
		}
		results = append(results, Result{Column: col, Points: points})
	}

	days := Join(a.config.Location, results)
	logger.InfoContext(ctx, "aggregate: joined daily observations",
		"columns", len(results), "days", len(days))
	return days, nil
}

// Join left-merges every result onto the first one by local date and drops
// days where any column is missing. The row set does not depend on the
// order of the results after the first.
func Join(loc *time.Location, results []Result) []models.DailyObservation {
	if len(results) == 0 {
		return nil
	}

	lookups := make([]map[string]float64, len(results))
	for i, r := range results {
		m := make(map[string]float64, len(r.Points))
		for _, p := range r.Points {
			if p.Value.Valid {
				m[series.DateKey(p.Time, loc)] = p.Value.Float64
			}
		}
		lookups[i] = m
	}

	var days []models.DailyObservation
	for _, p := range results[0].Points {
		if !p.Value.Valid {
			continue
		}
		key := series.DateKey(p.Time, loc)
		local := p.Time.In(loc)
		day := models.DailyObservation{Date: time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)}

		complete := true
		for i, r := range results {
			v, ok := lookups[i][key]
			if !ok {
				complete = false
				break
			}
			if r.Column.set != nil {
				r.Column.set(&day, v)
			}
		}
		if complete {
			days = append(days, day)
		}
	}
	return days
}

func countValid(points []models.Point) int {
	n := 0
	for _, p := range points {
		if p.Value.Valid {
			n++
		}
	}
	return n
}

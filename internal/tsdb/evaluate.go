package tsdb

import (
	"github.com/lox/balancepoint/internal/models"
	"github.com/lox/balancepoint/internal/series"
)

// Evaluate runs q over raw readings in memory, matching what InfluxDB returns
// for the rendered InfluxQL: one point per local day in [Start, End).
func Evaluate(q Query, raw []models.Point) []models.Point {
	days := series.Days(q.Start, q.End, q.Location)
	if len(days) == 0 {
		return nil
	}

	points := raw
	if q.Sample > 0 {
		points = series.FillLinear(series.Resample(raw, days[0], q.End, q.Sample, series.Mean))
		if q.Base.Valid {
			base := q.Base.Float64
			points = series.Map(points, func(v float64) float64 { return base - v })
		}
	}

	var daily []models.Point
	switch q.Func {
	case FuncMean:
		daily = series.Daily(points, days, q.Location, series.Mean)
	case FuncSum:
		daily = series.Daily(points, days, q.Location, series.Sum)
	case FuncLast:
		daily = series.Daily(points, days, q.Location, series.Last)
	case FuncDifferenceLast:
		daily = series.Difference(series.Daily(points, days, q.Location, series.Last))
	}

	if q.Divisor != 0 && q.Divisor != 1 {
		d := q.Divisor
		daily = series.Map(daily, func(v float64) float64 { return v / d })
	}
	return daily
}

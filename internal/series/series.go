// Package series implements the bucketing, gap filling and differencing the
// time-series store performs server side, for backends that only hold raw
// readings.
package series

import (
	"math"
	"time"

	"github.com/lox/balancepoint/internal/models"
)

// Reducer folds the values that fell into one bucket. It is never called
// with an empty slice.
type Reducer func([]float64) float64

func Mean(vs []float64) float64 {
	return Sum(vs) / float64(len(vs))
}

func Sum(vs []float64) float64 {
	var total float64
	for _, v := range vs {
		total += v
	}
	return total
}

func Last(vs []float64) float64 {
	return vs[len(vs)-1]
}

// Resample groups time-ordered points into fixed-width buckets starting at
// start and ending before end. Buckets without valid points are missing.
func Resample(points []models.Point, start, end time.Time, width time.Duration, reduce Reducer) []models.Point {
	if width <= 0 || !end.After(start) {
		return nil
	}
	n := int((end.Sub(start) + width - 1) / width)
	values := make([][]float64, n)
	for _, p := range points {
		if !p.Value.Valid || p.Time.Before(start) || !p.Time.Before(end) {
			continue
		}
		i := int(p.Time.Sub(start) / width)
		values[i] = append(values[i], p.Value.Float64)
	}

	out := make([]models.Point, n)
	for i := range out {
		t := start.Add(time.Duration(i) * width)
		if len(values[i]) == 0 {
			out[i] = models.Missing(t)
			continue
		}
		out[i] = models.Valid(t, reduce(values[i]))
	}
	return out
}

// FillLinear interpolates missing points that lie between two valid ones,
// weighting by time. Leading and trailing gaps stay missing.
func FillLinear(points []models.Point) []models.Point {
	out := make([]models.Point, len(points))
	copy(out, points)

	prev := -1
	for i, p := range out {
		if !p.Value.Valid {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			a, b := out[prev], out[i]
			span := b.Time.Sub(a.Time).Seconds()
			for j := prev + 1; j < i; j++ {
				frac := out[j].Time.Sub(a.Time).Seconds() / span
				v := a.Value.Float64 + frac*(b.Value.Float64-a.Value.Float64)
				out[j] = models.Valid(out[j].Time, v)
			}
		}
		prev = i
	}
	return out
}

// Days returns the local midnights of every calendar day in [start, end).
func Days(start, end time.Time, loc *time.Location) []time.Time {
	s := start.In(loc)
	day := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	var days []time.Time
	for day.Before(end) {
		days = append(days, day)
		day = day.AddDate(0, 0, 1)
	}
	return days
}

// Daily groups points by local calendar day. The result has one point per
// entry in days; days without valid points are missing.
func Daily(points []models.Point, days []time.Time, loc *time.Location, reduce Reducer) []models.Point {
	index := make(map[string]int, len(days))
	for i, d := range days {
		index[DateKey(d, loc)] = i
	}

	values := make([][]float64, len(days))
	for _, p := range points {
		if !p.Value.Valid {
			continue
		}
		i, ok := index[DateKey(p.Time, loc)]
		if !ok {
			continue
		}
		values[i] = append(values[i], p.Value.Float64)
	}

	out := make([]models.Point, len(days))
	for i, d := range days {
		if len(values[i]) == 0 {
			out[i] = models.Missing(d)
			continue
		}
		out[i] = models.Valid(d, reduce(values[i]))
	}
	return out
}

// DateKey formats t as a local calendar date.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// Difference replaces each valid point with its change from the previous
// valid point. The first valid point has no predecessor and becomes missing.
func Difference(points []models.Point) []models.Point {
	out := make([]models.Point, len(points))
	prev := math.NaN()
	for i, p := range points {
		if !p.Value.Valid {
			out[i] = models.Missing(p.Time)
			continue
		}
		if math.IsNaN(prev) {
			out[i] = models.Missing(p.Time)
		} else {
			out[i] = models.Valid(p.Time, p.Value.Float64-prev)
		}
		prev = p.Value.Float64
	}
	return out
}

// PctChange is the relative change from the previous valid point. A change
// away from zero is infinite; zero to zero is undefined and left missing.
func PctChange(points []models.Point) []models.Point {
	out := make([]models.Point, len(points))
	prev := math.NaN()
	for i, p := range points {
		if !p.Value.Valid {
			out[i] = models.Missing(p.Time)
			continue
		}
		cur := p.Value.Float64
		switch {
		case math.IsNaN(prev):
			out[i] = models.Missing(p.Time)
		case prev == 0 && cur == 0:
			out[i] = models.Missing(p.Time)
		case prev == 0:
			out[i] = models.Valid(p.Time, math.Copysign(math.Inf(1), cur))
		default:
			out[i] = models.Valid(p.Time, (cur-prev)/prev)
		}
		prev = cur
	}
	return out
}

// Map applies fn to every valid point.
func Map(points []models.Point, fn func(float64) float64) []models.Point {
	out := make([]models.Point, len(points))
	for i, p := range points {
		if p.Value.Valid {
			out[i] = models.Valid(p.Time, fn(p.Value.Float64))
		} else {
			out[i] = p
		}
	}
	return out
}

// MaxAbs returns the largest absolute valid value and where it occurred.
// ok is false when there are no valid points.
func MaxAbs(points []models.Point) (largest float64, at time.Time, ok bool) {
	for _, p := range points {
		if !p.Value.Valid {
			continue
		}
		v := math.Abs(p.Value.Float64)
		if !ok || v > largest {
			largest, at, ok = v, p.Time, true
		}
	}
	return largest, at, ok
}

// Package tsdb describes the queries the estimator runs against a time-series
// store and implements them for InfluxDB 1.x.
package tsdb

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lox/balancepoint/internal/models"
)

// Func is the per-bucket aggregate of a daily query.
type Func string

const (
	FuncMean           Func = "mean"
	FuncSum            Func = "sum"
	FuncLast           Func = "last"
	FuncDifferenceLast Func = "difference_last" // difference(last(field))
)

// Query is a bucketed query over one stream. When Sample is non-zero the
// stream is first averaged into Sample-wide buckets with linear fill and
// Func is applied to those buckets instead of the raw readings.
type Query struct {
	Stream   models.Stream
	Start    time.Time
	End      time.Time
	Location *time.Location

	Sample time.Duration
	// Base turns the sampled value into Base - mean(field).
	Base sql.NullFloat64

	Func    Func
	Bucket  time.Duration
	Divisor float64 // 0 or 1 leaves values unscaled
}

func (q Query) Validate() error {
	if q.Stream.Measurement == "" || q.Stream.Field == "" {
		return fmt.Errorf("query: measurement and field are required")
	}
	if q.Location == nil {
		return fmt.Errorf("query %s: location is required", q.Stream)
	}
	if !q.End.After(q.Start) {
		return fmt.Errorf("query %s: empty time range", q.Stream)
	}
	if q.Bucket <= 0 {
		return fmt.Errorf("query %s: bucket width must be positive", q.Stream)
	}
	if q.Sample < 0 || (q.Sample > 0 && q.Bucket%q.Sample != 0) {
		return fmt.Errorf("query %s: sample width must divide bucket width", q.Stream)
	}
	switch q.Func {
	case FuncMean, FuncSum, FuncLast, FuncDifferenceLast:
	default:
		return fmt.Errorf("query %s: unknown aggregate %q", q.Stream, q.Func)
	}
	return nil
}

// Source is a read-only time-series store. Daily results have one point per
// bucket, missing where the store had nothing.
type Source interface {
	// Raw returns every reading of the stream in time order. Zero start or
	// end leave that side of the range open.
	Raw(ctx context.Context, s models.Stream, start, end time.Time) ([]models.Point, error)
	Daily(ctx context.Context, q Query) ([]models.Point, error)
	Close() error
}

// InfluxQL renders the query, for example:
//
//	SELECT sum("value")/144 AS "value" FROM (
//	  SELECT 65-mean("temperature_F") AS "value" FROM "rtl433"."autogen"."FT-004B"
//	  WHERE time >= '2021-01-01T05:00:00Z' AND time < '...' GROUP BY time(10m) fill(linear) TZ('America/New_York')
//	) GROUP BY time(24h) TZ('America/New_York')
func (q Query) InfluxQL() string {
	tz := fmt.Sprintf("TZ(%s)", quoteString(q.Location.String()))
	where := whereClause(q.Stream, q.Start, q.End)
	scale := ""
	if q.Divisor != 0 && q.Divisor != 1 {
		scale = "/" + formatNumber(q.Divisor)
	}

	if q.Sample > 0 {
		inner := "mean(" + quoteIdent(q.Stream.Field) + ")"
		if q.Base.Valid {
			inner = formatNumber(q.Base.Float64) + "-" + inner
		}
		sub := fmt.Sprintf("SELECT %s AS \"value\" FROM %s%s GROUP BY time(%s) fill(linear) %s",
			inner, from(q.Stream), where, influxDuration(q.Sample), tz)
		return fmt.Sprintf("SELECT %s%s AS \"value\" FROM (%s) GROUP BY time(%s) %s",
			call(q.Func, "value"), scale, sub, influxDuration(q.Bucket), tz)
	}

	return fmt.Sprintf("SELECT %s%s AS \"value\" FROM %s%s GROUP BY time(%s) %s",
		call(q.Func, q.Stream.Field), scale, from(q.Stream), where, influxDuration(q.Bucket), tz)
}

// RawInfluxQL selects every reading of a stream.
func RawInfluxQL(s models.Stream, start, end time.Time) string {
	return fmt.Sprintf("SELECT %s AS \"value\" FROM %s%s", quoteIdent(s.Field), from(s), whereClause(s, start, end))
}

func call(f Func, field string) string {
	if f == FuncDifferenceLast {
		return "difference(last(" + quoteIdent(field) + "))"
	}
	return string(f) + "(" + quoteIdent(field) + ")"
}

func from(s models.Stream) string {
	rp := s.RetentionPolicy
	if rp == "" {
		rp = "autogen"
	}
	if s.Database == "" {
		return quoteIdent(s.Measurement)
	}
	return quoteIdent(s.Database) + "." + quoteIdent(rp) + "." + quoteIdent(s.Measurement)
}

func whereClause(s models.Stream, start, end time.Time) string {
	var conds []string
	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		conds = append(conds, quoteIdent(k)+"="+quoteString(s.Tags[k]))
	}
	if !start.IsZero() {
		conds = append(conds, "time >= "+quoteString(start.UTC().Format(time.RFC3339Nano)))
	}
	if !end.IsZero() {
		conds = append(conds, "time < "+quoteString(end.UTC().Format(time.RFC3339Nano)))
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func quoteIdent(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func quoteString(s string) string {
	return `'` + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + `'`
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// influxDuration formats d with the largest InfluxQL unit that divides it.
func influxDuration(d time.Duration) string {
	units := []struct {
		unit time.Duration
		sfx  string
	}{
		{7 * 24 * time.Hour, "w"},
		{24 * time.Hour, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
		{time.Millisecond, "ms"},
		{time.Microsecond, "u"},
	}
	for _, u := range units {
		if d%u.unit == 0 {
			n := int64(d / u.unit)
			if u.sfx == "d" && n == 1 {
				return "24h"
			}
			return strconv.FormatInt(n, 10) + u.sfx
		}
	}
	return strconv.FormatInt(int64(d), 10) + "ns"
}

package models

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Stream identifies one field of one measurement in the time-series store.
type Stream struct {
	Database        string
	RetentionPolicy string // "autogen" when empty
	Measurement     string
	Field           string
	Tags            map[string]string // equality filters, e.g. endpoint_id
}

// TagKey returns the tags in canonical "k=v,k=v" form, sorted by key.
func (s Stream) TagKey() string {
	if len(s.Tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+s.Tags[k])
	}
	return strings.Join(parts, ",")
}

func (s Stream) String() string {
	name := s.Database + "." + s.Measurement + "." + s.Field
	if tk := s.TagKey(); tk != "" {
		name += "{" + tk + "}"
	}
	return name
}

// ParseStream reads "database.retention.measurement.field" or
// "database.measurement.field", optionally followed by "{k=v,k=v}" tag
// filters.
func ParseStream(s string) (Stream, error) {
	var stream Stream
	name := s
	if i := strings.IndexByte(s, '{'); i >= 0 {
		if !strings.HasSuffix(s, "}") {
			return stream, fmt.Errorf("stream %q: unterminated tag filter", s)
		}
		name = s[:i]
		for _, kv := range strings.Split(s[i+1:len(s)-1], ",") {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return stream, fmt.Errorf("stream %q: bad tag filter %q", s, kv)
			}
			if stream.Tags == nil {
				stream.Tags = map[string]string{}
			}
			stream.Tags[k] = v
		}
	}

	parts := strings.Split(name, ".")
	switch len(parts) {
	case 3:
		stream.Database, stream.Measurement, stream.Field = parts[0], parts[1], parts[2]
	case 4:
		stream.Database, stream.RetentionPolicy, stream.Measurement, stream.Field = parts[0], parts[1], parts[2], parts[3]
	default:
		return stream, fmt.Errorf("stream %q: want database[.retention].measurement.field", s)
	}
	for _, p := range parts {
		if p == "" {
			return stream, fmt.Errorf("stream %q: empty name component", s)
		}
	}
	return stream, nil
}

// WithTag returns a copy of the stream with one more tag filter.
func (s Stream) WithTag(k, v string) Stream {
	tags := make(map[string]string, len(s.Tags)+1)
	for tk, tv := range s.Tags {
		tags[tk] = tv
	}
	tags[k] = v
	s.Tags = tags
	return s
}

// Point is a single reading or an aggregated bucket. A bucket with no data
// has an invalid Value.
type Point struct {
	Time  time.Time
	Value sql.NullFloat64
}

func Valid(t time.Time, v float64) Point {
	return Point{Time: t, Value: sql.NullFloat64{Float64: v, Valid: true}}
}

func Missing(t time.Time) Point {
	return Point{Time: t}
}

type Mode string

const (
	ModeHeat    Mode = "heat"
	ModeCool    Mode = "cool"
	ModeBoth    Mode = "both"
	ModeOff     Mode = "off"
	ModeUnknown Mode = "" // HVAC runtime not joined
)

// DailyObservation is one local calendar day of joined metrics. Columns that
// were not requested are left at zero.
type DailyObservation struct {
	Date             time.Time
	DegreeDays       float64
	MeanTemperature  float64
	GasUsageCCF      float64
	ElectricUsageKWh float64
	HeatSeconds      float64
	CoolSeconds      float64
	Mode             Mode
}

// Fit is the result of a single-variable least squares fit.
type Fit struct {
	Slope     float64
	Intercept float64
	RSquared  float64
	N         int
}

type Estimate struct {
	Fit          Fit
	BalancePoint float64 // °F
	Regressor    string
}

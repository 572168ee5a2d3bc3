package tsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/lox/balancepoint/internal/config"
	"github.com/lox/balancepoint/internal/log"
	"github.com/lox/balancepoint/internal/metrics"
	"github.com/lox/balancepoint/internal/models"
)

const DefaultTimeout = 5 * time.Minute

// Influx queries an InfluxDB 1.x server over its HTTP API.
type Influx struct {
	client   client.Client
	database string
	loc      *time.Location
}

func NewInflux(cfg config.Influx, loc *time.Location) (*Influx, error) {
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:      cfg.Addr(),
		Username:  cfg.Username,
		Password:  cfg.Password,
		UserAgent: "balancepoint",
		Timeout:   DefaultTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("influx client: %w", err)
	}
	return &Influx{client: c, database: cfg.Database, loc: loc}, nil
}

// Ping checks the server is reachable before any query is issued.
func (i *Influx) Ping(timeout time.Duration) (string, error) {
	_, version, err := i.client.Ping(timeout)
	if err != nil {
		return "", fmt.Errorf("influx ping: %w", err)
	}
	return version, nil
}

func (i *Influx) Raw(ctx context.Context, s models.Stream, start, end time.Time) ([]models.Point, error) {
	tz := fmt.Sprintf(" TZ(%s)", quoteString(i.loc.String()))
	return i.query(ctx, "raw", RawInfluxQL(s, start, end)+tz)
}

func (i *Influx) Daily(ctx context.Context, q Query) ([]models.Point, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return i.query(ctx, string(q.Func), q.InfluxQL())
}

func (i *Influx) query(ctx context.Context, kind, cmd string) ([]models.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Ctx(ctx).DebugContext(ctx, "influx: query", "q", cmd)

	start := time.Now()
	resp, err := i.client.Query(client.NewQuery(cmd, i.database, "ns"))
	if err == nil {
		err = resp.Error()
	}
	metrics.ObserveQuery("influx", kind, start, err)
	if err != nil {
		return nil, fmt.Errorf("influx query %q: %w", cmd, err)
	}

	var points []models.Point
	for _, result := range resp.Results {
		for _, row := range result.Series {
			timeCol, valueCol := -1, -1
			for c, name := range row.Columns {
				switch name {
				case "time":
					timeCol = c
				case "value":
					valueCol = c
				}
			}
			if timeCol < 0 || valueCol < 0 {
				return nil, fmt.Errorf("influx query: unexpected columns %v", row.Columns)
			}

			for _, values := range row.Values {
				t, err := parseTime(values[timeCol])
				if err != nil {
					return nil, fmt.Errorf("influx query: %w", err)
				}
				p := models.Missing(t.In(i.loc))
				if v, ok := parseValue(values[valueCol]); ok {
					p = models.Valid(p.Time, v)
				}
				points = append(points, p)
			}
		}
	}
	return points, nil
}

func (i *Influx) Close() error {
	return i.client.Close()
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time %q: %w", t, err)
		}
		return time.Unix(0, n), nil
	case float64:
		return time.Unix(0, int64(t)), nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	}
	return time.Time{}, fmt.Errorf("parse time: unexpected %T", v)
}

func parseValue(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

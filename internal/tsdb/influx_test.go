package tsdb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/balancepoint/internal/config"
)

// fakeInflux answers /ping and /query the way an InfluxDB 1.8 server does.
func fakeInflux(t *testing.T, body func(q string) string) (*httptest.Server, *[]url.Values) {
	t.Helper()
	var seen []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Influxdb-Version", "1.8.10")
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/query":
			require.NoError(t, r.ParseForm())
			seen = append(seen, r.Form)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, body(r.Form.Get("q")))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newTestInflux(t *testing.T, srv *httptest.Server) *Influx {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	i, err := NewInflux(config.Influx{Host: u.Hostname(), Port: port, Database: "rtl433"}, eastern(t))
	require.NoError(t, err)
	t.Cleanup(func() { i.Close() })
	return i
}

func TestInfluxDaily(t *testing.T) {
	loc := eastern(t)
	day1 := time.Date(2021, 1, 1, 0, 0, 0, 0, loc)
	day2 := day1.AddDate(0, 0, 1)

	srv, seen := fakeInflux(t, func(q string) string {
		return fmt.Sprintf(`{"results":[{"statement_id":0,"series":[{"name":"FT-004B","columns":["time","value"],"values":[[%d,30.5],[%d,null]]}]}]}`,
			day1.UnixNano(), day2.UnixNano())
	})
	i := newTestInflux(t, srv)

	version, err := i.Ping(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1.8.10", version)

	q := Query{
		Stream:   temperature,
		Start:    day1,
		End:      day2.AddDate(0, 0, 1),
		Location: loc,
		Func:     FuncSum,
		Bucket:   24 * time.Hour,
	}
	points, err := i.Daily(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.True(t, points[0].Time.Equal(day1))
	assert.Equal(t, loc, points[0].Time.Location())
	assert.True(t, points[0].Value.Valid)
	assert.Equal(t, 30.5, points[0].Value.Float64)
	assert.False(t, points[1].Value.Valid)

	require.Len(t, *seen, 1)
	form := (*seen)[0]
	assert.Equal(t, "rtl433", form.Get("db"))
	assert.Equal(t, "ns", form.Get("epoch"))
	assert.Equal(t, q.InfluxQL(), form.Get("q"))
}

func TestInfluxRaw(t *testing.T) {
	srv, seen := fakeInflux(t, func(q string) string {
		return `{"results":[{"statement_id":0,"series":[{"name":"FT-004B","columns":["time","value"],"values":[[1609477200000000000,31],[1609477260000000000,31.2]]}]}]}`
	})
	i := newTestInflux(t, srv)

	points, err := i.Raw(context.Background(), temperature, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 31.2, points[1].Value.Float64)
	assert.Equal(t, time.Minute, points[1].Time.Sub(points[0].Time))

	assert.Equal(t, `SELECT "temperature_F" AS "value" FROM "rtl433"."autogen"."FT-004B" TZ('America/New_York')`, (*seen)[0].Get("q"))
}

func TestInfluxQueryError(t *testing.T) {
	srv, _ := fakeInflux(t, func(q string) string {
		return `{"results":[{"statement_id":0,"error":"database not found: rtl433"}]}`
	})
	i := newTestInflux(t, srv)

	_, err := i.Raw(context.Background(), temperature, time.Time{}, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database not found")
}

func TestInfluxCancelledContext(t *testing.T) {
	srv, seen := fakeInflux(t, func(q string) string { return `{"results":[]}` })
	i := newTestInflux(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := i.Raw(ctx, temperature, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, *seen)
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("2021-01-01T05:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1609477200), got.Unix())

	_, err = parseTime(true)
	assert.Error(t, err)
}

package aggregate

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/balancepoint/internal/models"
	"github.com/lox/balancepoint/internal/tsdb"
)

var newYork = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func day(n int) time.Time {
	return time.Date(2021, 1, n, 0, 0, 0, 0, newYork)
}

type fakeSource struct {
	raw     map[string][]models.Point
	queries []tsdb.Query
	err     error
}

func (f *fakeSource) Raw(ctx context.Context, s models.Stream, start, end time.Time) ([]models.Point, error) {
	return f.raw[s.String()], f.err
}

func (f *fakeSource) Daily(ctx context.Context, q tsdb.Query) ([]models.Point, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return tsdb.Evaluate(q, f.raw[q.Stream.String()]), nil
}

func (f *fakeSource) Close() error { return nil }

var testStreams = Streams{
	Temperature: models.Stream{Database: "rtl433", Measurement: "FT-004B", Field: "temperature_F"},
	Gas:         models.Stream{Database: "rtlamr", Measurement: "rtlamr", Field: "consumption", Tags: map[string]string{"endpoint_id": "11135205"}},
	Electric:    models.Stream{Database: "rtlamr", Measurement: "rtlamr", Field: "consumption", Tags: map[string]string{"endpoint_id": "55293378"}},
	Heat:        models.Stream{Database: "ecobee", Measurement: "runtime", Field: "auxHeat1"},
	Cool:        models.Stream{Database: "ecobee", Measurement: "runtime", Field: "compCool1"},
}

func testConfig(f Features) Config {
	return Config{
		Streams:         testStreams,
		Start:           day(1),
		End:             day(4),
		Location:        newYork,
		BaseTemperature: 65,
		Sample:          DefaultSample,
		Bucket:          DefaultBucket,
		MeterDivisor:    DefaultMeterDivisor,
		Features:        f,
	}
}

// threeDays holds a constant 45°F, meters read at noon and an hour of heat
// per day for January 1st to 3rd.
func threeDays() map[string][]models.Point {
	var temps []models.Point
	for t := day(1); t.Before(day(4)); t = t.Add(10 * time.Minute) {
		temps = append(temps, models.Valid(t, 45))
	}
	noon := func(n int) time.Time { return day(n).Add(12 * time.Hour) }
	return map[string][]models.Point{
		testStreams.Temperature.String(): temps,
		testStreams.Gas.String():         {models.Valid(noon(1), 1000), models.Valid(noon(2), 1200), models.Valid(noon(3), 1350)},
		testStreams.Electric.String():    {models.Valid(noon(1), 5000), models.Valid(noon(2), 6500), models.Valid(noon(3), 7700)},
		testStreams.Heat.String():        {models.Valid(noon(1), 3600), models.Valid(noon(2), 1800), models.Valid(noon(3), 900)},
		testStreams.Cool.String():        {models.Valid(noon(1), 0), models.Valid(noon(2), 0), models.Valid(noon(3), 0)},
	}
}

func TestColumnsFollowFeatures(t *testing.T) {
	names := func(cols []Column) []string {
		var out []string
		for _, c := range cols {
			out = append(out, c.Name)
		}
		return out
	}

	simple := testConfig(Features{}).Columns()
	assert.Equal(t, []string{ColumnDegreeDays, ColumnMeanTemperature, ColumnGas}, names(simple))

	full := testConfig(Features{IncludeElectric: true, IncludeHVAC: true, HeatOnly: true}).Columns()
	assert.Equal(t, []string{ColumnDegreeDays, ColumnMeanTemperature, ColumnGas, ColumnElectric, ColumnHeat, ColumnCool}, names(full))

	dd := full[0].Query
	assert.Equal(t, tsdb.FuncSum, dd.Func)
	assert.Equal(t, 10*time.Minute, dd.Sample)
	assert.True(t, dd.Base.Valid)
	assert.Equal(t, 65.0, dd.Base.Float64)
	assert.Equal(t, 144.0, dd.Divisor)
	assert.False(t, full[1].Query.Base.Valid)

	gas := full[2].Query
	assert.Equal(t, tsdb.FuncDifferenceLast, gas.Func)
	assert.Equal(t, 100.0, gas.Divisor)
	assert.Equal(t, "11135205", gas.Stream.Tags["endpoint_id"])

	for _, c := range full {
		require.NoError(t, c.Query.Validate(), c.Name)
	}
}

func TestRunJoinsColumns(t *testing.T) {
	src := &fakeSource{raw: threeDays()}
	f, err := VariantFull.Features()
	require.NoError(t, err)

	days, err := New(src, testConfig(f)).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, src.queries, 6)

	// The first day has no meter difference and is dropped.
	require.Len(t, days, 2)
	assert.Equal(t, day(2), days[0].Date)
	assert.Equal(t, day(3), days[1].Date)

	assert.InDelta(t, 20.0, days[0].DegreeDays, 1e-9)
	assert.InDelta(t, 45.0, days[0].MeanTemperature, 1e-9)
	assert.InDelta(t, 2.0, days[0].GasUsageCCF, 1e-9)
	assert.InDelta(t, 1.5, days[1].GasUsageCCF, 1e-9)
	assert.InDelta(t, 15.0, days[0].ElectricUsageKWh, 1e-9)
	assert.Equal(t, 1800.0, days[0].HeatSeconds)
	assert.Equal(t, 0.0, days[0].CoolSeconds)
}

func TestRunEmptyColumnDropsEveryDay(t *testing.T) {
	raw := threeDays()
	delete(raw, testStreams.Electric.String())

	days, err := New(&fakeSource{raw: raw}, testConfig(Features{IncludeElectric: true})).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestRunStoreError(t *testing.T) {
	src := &fakeSource{err: errors.New("dial tcp: connection refused")}
	_, err := New(src, testConfig(Features{})).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "degree_days")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Len(t, src.queries, 1)
}

func TestRunRejectsBadConfig(t *testing.T) {
	cfg := testConfig(Features{HeatOnly: true})
	_, err := New(&fakeSource{}, cfg).Run(context.Background())
	assert.ErrorIs(t, err, errHeatOnlyNeedsHVAC)

	cfg = testConfig(Features{})
	cfg.End = cfg.Start
	_, err = New(&fakeSource{}, cfg).Run(context.Background())
	assert.Error(t, err)

	cfg = testConfig(Features{})
	cfg.Sample = 7 * time.Minute
	_, err = New(&fakeSource{}, cfg).Run(context.Background())
	assert.Error(t, err)
}

func result(name string, set func(*models.DailyObservation, float64), days ...int) Result {
	var points []models.Point
	for _, n := range days {
		points = append(points, models.Valid(day(n), float64(n)))
	}
	return Result{Column: Column{Name: name, set: set}, Points: points}
}

func dates(days []models.DailyObservation) []time.Time {
	var out []time.Time
	for _, d := range days {
		out = append(out, d.Date)
	}
	return out
}

func TestJoinDropsIncompleteDays(t *testing.T) {
	dd := result(ColumnDegreeDays, func(d *models.DailyObservation, v float64) { d.DegreeDays = v }, 1, 2, 3)
	gas := result(ColumnGas, func(d *models.DailyObservation, v float64) { d.GasUsageCCF = v }, 2, 3, 4)

	days := Join(newYork, []Result{dd, gas})
	assert.Equal(t, []time.Time{day(2), day(3)}, dates(days))
	assert.Equal(t, 2.0, days[0].DegreeDays)
	assert.Equal(t, 3.0, days[1].GasUsageCCF)
}

func TestJoinOrderIndependent(t *testing.T) {
	dd := result(ColumnDegreeDays, nil, 1, 2, 3, 4, 5)
	gas := result(ColumnGas, nil, 2, 3, 4, 5)
	heat := result(ColumnHeat, nil, 1, 3, 4, 5)
	cool := result(ColumnCool, nil, 1, 2, 3, 4)

	want := []time.Time{day(3), day(4)}
	assert.Equal(t, want, dates(Join(newYork, []Result{dd, gas, heat, cool})))
	assert.Equal(t, want, dates(Join(newYork, []Result{dd, cool, heat, gas})))
	assert.Equal(t, want, dates(Join(newYork, []Result{dd, heat, gas, cool})))
}

func TestJoinSkipsMissingBaseDays(t *testing.T) {
	dd := result(ColumnDegreeDays, nil, 1, 2)
	dd.Points = append(dd.Points, models.Missing(day(3)))
	gas := result(ColumnGas, nil, 1, 2, 3)

	assert.Equal(t, []time.Time{day(1), day(2)}, dates(Join(newYork, []Result{dd, gas})))
	assert.Nil(t, Join(newYork, nil))
}

func TestVariantFeatures(t *testing.T) {
	f, err := VariantSimple.Features()
	require.NoError(t, err)
	assert.Equal(t, Features{}, f)

	f, err = Variant("").Features()
	require.NoError(t, err)
	assert.True(t, f.HeatOnly)
	require.NoError(t, f.Validate())

	_, err = Variant("fancy").Features()
	assert.Error(t, err)
}

func TestWriteTable(t *testing.T) {
	days := []models.DailyObservation{
		{Date: day(2), DegreeDays: 20, MeanTemperature: 45, GasUsageCCF: 2, HeatSeconds: 5400, Mode: models.ModeHeat},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, days, Features{IncludeHVAC: true}))
	out := buf.String()
	assert.Contains(t, out, "heat_seconds")
	assert.NotContains(t, out, "electric")
	assert.Contains(t, out, "2021-01-02")
	assert.Contains(t, out, "5,400")
	assert.Contains(t, out, "heat")
}

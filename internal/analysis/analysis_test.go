package analysis

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/balancepoint/internal/aggregate"
	"github.com/lox/balancepoint/internal/estimate"
	"github.com/lox/balancepoint/internal/models"
	"github.com/lox/balancepoint/internal/outliers"
	"github.com/lox/balancepoint/internal/tsdb"
)

var newYork = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}()

func day(n int) time.Time {
	return time.Date(2021, 1, n, 0, 0, 0, 0, newYork)
}

type fakeSource struct {
	raw   map[string][]models.Point
	daily int
}

func (f *fakeSource) Raw(ctx context.Context, s models.Stream, start, end time.Time) ([]models.Point, error) {
	return f.raw[s.String()], nil
}

func (f *fakeSource) Daily(ctx context.Context, q tsdb.Query) ([]models.Point, error) {
	f.daily++
	return tsdb.Evaluate(q, f.raw[q.Stream.String()]), nil
}

func (f *fakeSource) Close() error { return nil }

var streams = aggregate.Streams{
	Temperature: models.Stream{Database: "rtl433", Measurement: "FT-004B", Field: "temperature_F"},
	Gas:         models.Stream{Database: "rtlamr", Measurement: "rtlamr", Field: "consumption", Tags: map[string]string{"endpoint_id": "11135205"}},
	Electric:    models.Stream{Database: "rtlamr", Measurement: "rtlamr", Field: "consumption", Tags: map[string]string{"endpoint_id": "55293378"}},
	Heat:        models.Stream{Database: "ecobee", Measurement: "runtime", Field: "auxHeat1"},
	Cool:        models.Stream{Database: "ecobee", Measurement: "runtime", Field: "compCool1"},
}

// fiveDays is January 1st to 5th with a steady temperature each day. Days 2
// to 4 heat and burn 0.1 CCF per degree below 65 on top of 0.376 CCF; day 5
// only cools. Day 1 has no previous meter reading and is dropped by the join.
func fiveDays() map[string][]models.Point {
	temps := []float64{36, 40, 44, 48, 52}
	meter := []float64{10000, 10287.6, 10535.2, 10742.8, 10780.4}
	heat := []float64{3600, 3600, 3600, 3600, 0}
	cool := []float64{0, 0, 0, 0, 1800}

	raw := map[string][]models.Point{}
	for i, temp := range temps {
		for t := day(i + 1); t.Before(day(i + 2)); t = t.Add(10 * time.Minute) {
			raw[streams.Temperature.String()] = append(raw[streams.Temperature.String()], models.Valid(t, temp))
		}
		noon := day(i + 1).Add(12 * time.Hour)
		raw[streams.Gas.String()] = append(raw[streams.Gas.String()], models.Valid(noon, meter[i]))
		raw[streams.Electric.String()] = append(raw[streams.Electric.String()], models.Valid(noon, float64(50000+1200*i)))
		raw[streams.Heat.String()] = append(raw[streams.Heat.String()], models.Valid(noon, heat[i]))
		raw[streams.Cool.String()] = append(raw[streams.Cool.String()], models.Valid(noon, cool[i]))
	}
	return raw
}

func testConfig(t *testing.T) Config {
	f, err := aggregate.VariantFull.Features()
	require.NoError(t, err)
	return Config{
		Aggregate: aggregate.Config{
			Streams:         streams,
			Start:           day(1),
			End:             day(6),
			Location:        newYork,
			BaseTemperature: estimate.DefaultBaseTemperature,
			Sample:          aggregate.DefaultSample,
			Bucket:          aggregate.DefaultBucket,
			MeterDivisor:    aggregate.DefaultMeterDivisor,
			Features:        f,
		},
		Thresholds: outliers.DefaultThresholds(),
		Params:     estimate.DefaultParams(),
		PlotPath:   filepath.Join(t.TempDir(), "balpoint.png"),
	}
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer
	var sent []Result
	sink := SinkFunc(func(ctx context.Context, r Result) error {
		sent = append(sent, r)
		return nil
	})

	res, err := NewRunner(&fakeSource{raw: fiveDays()}, cfg, &out, sink).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Balance point: 65.0° F\n", out.String())

	require.Len(t, res.Days, 4)
	modes := []models.Mode{}
	for _, d := range res.Days {
		modes = append(modes, d.Mode)
	}
	assert.Equal(t, []models.Mode{models.ModeHeat, models.ModeHeat, models.ModeHeat, models.ModeCool}, modes)
	assert.Equal(t, day(2), res.Days[0].Date)
	assert.InDelta(t, 25.0, res.Days[0].DegreeDays, 1e-9)
	assert.InDelta(t, 2.876, res.Days[0].GasUsageCCF, 1e-9)
	assert.InDelta(t, 12.0, res.Days[0].ElectricUsageKWh, 1e-9)

	assert.Equal(t, 3, res.Estimate.Fit.N)
	assert.InDelta(t, -0.1, res.Estimate.Fit.Slope, 1e-9)
	assert.InDelta(t, 65.0, res.Estimate.BalancePoint, 1e-6)
	assert.True(t, res.Outliers.HasChanges)
	assert.InDelta(t, 4.0, res.Outliers.MaxDiff, 1e-9)

	written, err := os.ReadFile(cfg.PlotPath)
	require.NoError(t, err)
	assert.Equal(t, res.Plot, written)

	require.Len(t, sent, 1)
	assert.Equal(t, res.Estimate, sent[0].Estimate)
}

func TestRunStopsOnOutlier(t *testing.T) {
	raw := fiveDays()
	temps := raw[streams.Temperature.String()]
	temps[200] = models.Valid(temps[200].Time, 80)

	src := &fakeSource{raw: raw}
	var out bytes.Buffer
	_, err := NewRunner(src, testConfig(t), &out).Run(context.Background())

	var ve *outliers.ViolationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Empty(t, out.String())
	assert.Zero(t, src.daily, "no daily queries after a violation")
}

func TestRunFailsWithoutHeatDays(t *testing.T) {
	raw := fiveDays()
	for i, p := range raw[streams.Heat.String()] {
		raw[streams.Heat.String()][i] = models.Valid(p.Time, 0)
	}

	var out bytes.Buffer
	cfg := testConfig(t)
	_, err := NewRunner(&fakeSource{raw: raw}, cfg, &out).Run(context.Background())
	assert.ErrorIs(t, err, estimate.ErrIllConditioned)
	assert.Empty(t, out.String())
	assert.NoFileExists(t, cfg.PlotPath)
}

func TestRunSimpleVariantFitsEveryDay(t *testing.T) {
	cfg := testConfig(t)
	cfg.Aggregate.Features = aggregate.Features{}
	cfg.PlotPath = ""

	src := &fakeSource{raw: fiveDays()}
	var out bytes.Buffer
	res, err := NewRunner(src, cfg, &out).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, src.daily)
	assert.Equal(t, 4, res.Estimate.Fit.N)
	for _, d := range res.Days {
		assert.Equal(t, models.ModeUnknown, d.Mode)
	}
	assert.Contains(t, out.String(), "Balance point: ")
}

func TestRunSinkError(t *testing.T) {
	sink := SinkFunc(func(ctx context.Context, r Result) error { return errors.New("broker down") })
	cfg := testConfig(t)
	var out bytes.Buffer
	_, err := NewRunner(&fakeSource{raw: fiveDays()}, cfg, &out, sink).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

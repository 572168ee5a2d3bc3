package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lox/balancepoint/internal/aggregate"
	"github.com/lox/balancepoint/internal/analysis"
	"github.com/lox/balancepoint/internal/estimate"
	"github.com/lox/balancepoint/internal/log"
	"github.com/lox/balancepoint/internal/models"
	"github.com/lox/balancepoint/internal/outliers"
)

const endpointTag = "endpoint_id"

type streamFlags struct {
	Temperature      string `default:"rtl433.autogen.FT-004B.temperature_F" env:"BALANCEPOINT_TEMPERATURE_STREAM" help:"Outdoor temperature stream (°F)."`
	Meter            string `default:"rtlamr.autogen.rtlamr.consumption" env:"BALANCEPOINT_METER_STREAM" help:"Cumulative meter consumption stream."`
	GasEndpoint      string `default:"11135205" env:"BALANCEPOINT_GAS_ENDPOINT" help:"Gas meter endpoint_id."`
	ElectricEndpoint string `env:"BALANCEPOINT_ELECTRIC_ENDPOINT" help:"Electric meter endpoint_id. Electric usage is skipped when empty."`
	Heat             string `default:"ecobee.autogen.runtime.auxHeat1" env:"BALANCEPOINT_HEAT_STREAM" help:"Thermostat heating run seconds."`
	Cool             string `default:"ecobee.autogen.runtime.compCool1" env:"BALANCEPOINT_COOL_STREAM" help:"Thermostat cooling run seconds."`
}

func (f streamFlags) streams() (aggregate.Streams, error) {
	var s aggregate.Streams
	var err error
	if s.Temperature, err = models.ParseStream(f.Temperature); err != nil {
		return s, err
	}
	meter, err := models.ParseStream(f.Meter)
	if err != nil {
		return s, err
	}
	s.Gas = meter.WithTag(endpointTag, f.GasEndpoint)
	if f.ElectricEndpoint != "" {
		s.Electric = meter.WithTag(endpointTag, f.ElectricEndpoint)
	}
	if s.Heat, err = models.ParseStream(f.Heat); err != nil {
		return s, err
	}
	if s.Cool, err = models.ParseStream(f.Cool); err != nil {
		return s, err
	}
	return s, nil
}

// rangeFlags bound the analysis to [start, end) in local days.
type rangeFlags struct {
	Start string `default:"2021-01-01" env:"BALANCEPOINT_START" help:"First day to include (YYYY-MM-DD)."`
	End   string `env:"BALANCEPOINT_END" help:"Day to stop before (YYYY-MM-DD). Defaults to today."`
}

func (f rangeFlags) bounds(loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(time.DateOnly, f.Start, loc)
	if err != nil {
		return start, start, fmt.Errorf("parse --start: %w", err)
	}
	local := now.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if f.End != "" {
		if end, err = time.ParseInLocation(time.DateOnly, f.End, loc); err != nil {
			return start, end, fmt.Errorf("parse --end: %w", err)
		}
	}
	if !end.After(start) {
		return start, end, fmt.Errorf("--end %s must be after --start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return start, end, nil
}

type thresholdFlags struct {
	MaxDiff      float64 `default:"${max_diff}" env:"BALANCEPOINT_MAX_DIFF" help:"Largest allowed jump between temperature readings (°F)."`
	MaxPctChange float64 `default:"${max_pct_change}" env:"BALANCEPOINT_MAX_PCT_CHANGE" help:"Largest allowed relative jump between temperature readings."`
}

func (f thresholdFlags) thresholds() outliers.Thresholds {
	return outliers.Thresholds{MaxDiff: f.MaxDiff, MaxPctChange: f.MaxPctChange}
}

type analysisFlags struct {
	Streams    streamFlags    `embed:""`
	Range      rangeFlags     `embed:""`
	Thresholds thresholdFlags `embed:""`

	Variant         string  `default:"full" enum:"simple,full" env:"BALANCEPOINT_VARIANT" help:"Columns to join and days to fit (${enum})."`
	Regressor       string  `default:"temperature" enum:"temperature,degree-days" env:"BALANCEPOINT_REGRESSOR" help:"Independent variable of the fit (${enum})."`
	BaseTemperature float64 `default:"65" env:"BALANCEPOINT_BASE_TEMPERATURE" help:"Degree-day base temperature (°F)."`
	BaselineUsage   float64 `default:"0.376" env:"BALANCEPOINT_BASELINE_USAGE" help:"Daily gas use with the heating off (CCF)."`
}

func (f analysisFlags) config(ctx context.Context, loc *time.Location, now time.Time) (analysis.Config, error) {
	var cfg analysis.Config

	streams, err := f.Streams.streams()
	if err != nil {
		return cfg, err
	}
	start, end, err := f.Range.bounds(loc, now)
	if err != nil {
		return cfg, err
	}
	features, err := aggregate.Variant(f.Variant).Features()
	if err != nil {
		return cfg, err
	}
	if features.IncludeElectric && f.Streams.ElectricEndpoint == "" {
		log.Ctx(ctx).WarnContext(ctx, "no electric meter endpoint configured, skipping electric usage")
		features.IncludeElectric = false
	}
	regressor, err := estimate.ParseRegressor(f.Regressor)
	if err != nil {
		return cfg, err
	}

	cfg.Aggregate = aggregate.Config{
		Streams:         streams,
		Start:           start,
		End:             end,
		Location:        loc,
		BaseTemperature: f.BaseTemperature,
		Sample:          aggregate.DefaultSample,
		Bucket:          aggregate.DefaultBucket,
		MeterDivisor:    aggregate.DefaultMeterDivisor,
		Features:        features,
	}
	cfg.Thresholds = f.Thresholds.thresholds()
	cfg.Params = estimate.Params{
		BaselineUsage:   f.BaselineUsage,
		BaseTemperature: f.BaseTemperature,
		Regressor:       regressor,
		HeatOnly:        features.HeatOnly,
	}
	return cfg, cfg.Aggregate.Validate()
}

package estimate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/balancepoint/internal/models"
)

var (
	ErrIllConditioned  = errors.New("regression is ill-conditioned")
	ErrDegenerateSlope = errors.New("usage does not vary with the regressor")
)

const (
	DefaultBaselineUsage   = 0.376 // CCF/day with no heating, summer 2020 gas readings
	DefaultBaseTemperature = 65.0
	minSlope               = 1e-9
)

// Regressor selects the independent variable of the fit.
type Regressor string

const (
	RegressorTemperature Regressor = "temperature"
	RegressorDegreeDays  Regressor = "degree-days"
)

func ParseRegressor(s string) (Regressor, error) {
	switch r := Regressor(s); r {
	case RegressorTemperature, RegressorDegreeDays:
		return r, nil
	}
	return "", fmt.Errorf("unknown regressor %q (want %s or %s)", s, RegressorTemperature, RegressorDegreeDays)
}

type Params struct {
	BaselineUsage   float64 // daily gas use with the heating off
	BaseTemperature float64 // degree-day base, °F
	Regressor       Regressor
	HeatOnly        bool // fit only days classified as heat
}

func DefaultParams() Params {
	return Params{
		BaselineUsage:   DefaultBaselineUsage,
		BaseTemperature: DefaultBaseTemperature,
		Regressor:       RegressorTemperature,
		HeatOnly:        true,
	}
}

// FitLine is ordinary least squares of ys on xs.
func FitLine(xs, ys []float64) (models.Fit, error) {
	if len(xs) != len(ys) {
		return models.Fit{}, fmt.Errorf("%w: %d x values but %d y values", ErrIllConditioned, len(xs), len(ys))
	}
	if len(xs) < 2 {
		return models.Fit{}, fmt.Errorf("%w: need at least 2 points, have %d", ErrIllConditioned, len(xs))
	}
	if !finite(xs) || !finite(ys) {
		return models.Fit{}, fmt.Errorf("%w: NaN or infinite input", ErrIllConditioned)
	}
	if floats.Max(xs) == floats.Min(xs) {
		return models.Fit{}, fmt.Errorf("%w: all %d x values are %v", ErrIllConditioned, len(xs), xs[0])
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	return models.Fit{
		Slope:     slope,
		Intercept: intercept,
		RSquared:  stat.RSquared(xs, ys, nil, intercept, slope),
		N:         len(xs),
	}, nil
}

func finite(vs []float64) bool {
	if floats.HasNaN(vs) {
		return false
	}
	for _, v := range vs {
		if math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// BalancePoint solves the fitted line for the baseline usage and converts
// the result to °F.
func BalancePoint(fit models.Fit, p Params) (float64, error) {
	if math.Abs(fit.Slope) < minSlope {
		return 0, fmt.Errorf("%w: slope %g", ErrDegenerateSlope, fit.Slope)
	}
	x := (p.BaselineUsage - fit.Intercept) / fit.Slope
	if p.Regressor == RegressorDegreeDays {
		x = p.BaseTemperature - x
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, fmt.Errorf("%w: balance point %v", ErrDegenerateSlope, x)
	}
	return x, nil
}

// X returns the regressor value of a day.
func (p Params) X(d models.DailyObservation) float64 {
	if p.Regressor == RegressorDegreeDays {
		return d.DegreeDays
	}
	return d.MeanTemperature
}

// Fits reports whether the day takes part in the regression.
func (p Params) Fits(d models.DailyObservation) bool {
	return !p.HeatOnly || d.Mode == models.ModeHeat
}

// Estimate fits gas usage against the regressor and derives the balance point.
func Estimate(days []models.DailyObservation, p Params) (models.Estimate, error) {
	var xs, ys []float64
	for _, d := range days {
		if p.Fits(d) {
			xs = append(xs, p.X(d))
			ys = append(ys, d.GasUsageCCF)
		}
	}

	fit, err := FitLine(xs, ys)
	if err != nil {
		return models.Estimate{}, err
	}
	bp, err := BalancePoint(fit, p)
	if err != nil {
		return models.Estimate{}, err
	}
	return models.Estimate{Fit: fit, BalancePoint: bp, Regressor: string(p.Regressor)}, nil
}

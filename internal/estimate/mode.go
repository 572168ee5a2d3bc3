package estimate

import (
	"errors"
	"fmt"
	"math"

	"github.com/lox/balancepoint/internal/models"
)

var ErrInvalidRuntime = errors.New("invalid hvac runtime")

// ClassifyMode derives the day's HVAC mode from equipment run seconds.
func ClassifyMode(heatSeconds, coolSeconds float64) (models.Mode, error) {
	for _, v := range []float64{heatSeconds, coolSeconds} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return models.ModeUnknown, fmt.Errorf("%w: heat=%v cool=%v", ErrInvalidRuntime, heatSeconds, coolSeconds)
		}
	}

	heat := heatSeconds > 0
	cool := coolSeconds > 0
	switch {
	case heat && cool:
		return models.ModeBoth, nil
	case heat:
		return models.ModeHeat, nil
	case cool:
		return models.ModeCool, nil
	}
	return models.ModeOff, nil
}

// ClassifyDays sets Mode on every observation.
func ClassifyDays(days []models.DailyObservation) error {
	for i := range days {
		mode, err := ClassifyMode(days[i].HeatSeconds, days[i].CoolSeconds)
		if err != nil {
			return fmt.Errorf("classify %s: %w", days[i].Date.Format("2006-01-02"), err)
		}
		days[i].Mode = mode
	}
	return nil
}

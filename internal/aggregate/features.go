package aggregate

import (
	"errors"
	"fmt"
)

// Variant is a named set of features.
type Variant string

const (
	// VariantSimple fits gas against temperature on every joined day.
	VariantSimple Variant = "simple"
	// VariantFull joins electric and HVAC runtime and fits heat days only.
	VariantFull Variant = "full"
)

type Features struct {
	IncludeElectric bool
	IncludeHVAC     bool
	HeatOnly        bool
}

var errHeatOnlyNeedsHVAC = errors.New("heat-only fitting needs hvac runtime")

func (f Features) Validate() error {
	if f.HeatOnly && !f.IncludeHVAC {
		return errHeatOnlyNeedsHVAC
	}
	return nil
}

func (v Variant) Features() (Features, error) {
	switch v {
	case VariantSimple:
		return Features{}, nil
	case VariantFull, "":
		return Features{IncludeElectric: true, IncludeHVAC: true, HeatOnly: true}, nil
	}
	return Features{}, fmt.Errorf("unknown variant %q (want %s or %s)", v, VariantSimple, VariantFull)
}

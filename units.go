package lensing

import (
	"fmt"
	"math"
)

const (
	// C is the speed of light in m/s.
	C = 299792458.0
	// G is the gravitational constant in m^3 kg^-1 s^-2.
	G = 6.67430e-11
	// SolarMass is one solar mass in kg.
	SolarMass = 1.98847e30
)

// UnitSystem converts between render distance units and SI meters.
// It is the only place where the scale factor is applied.
type UnitSystem struct {
	metersPerUnit float64
}

// NewUnitSystem returns a unit system where one render unit is metersPerUnit meters.
func NewUnitSystem(metersPerUnit float64) (UnitSystem, error) {
	if !(metersPerUnit > 0) || math.IsInf(metersPerUnit, 0) {
		return UnitSystem{}, fmt.Errorf("%w: got %g", ErrInvalidScale, metersPerUnit)
	}
	return UnitSystem{metersPerUnit}, nil
}

// MetersPerUnit returns the scale factor.
func (u UnitSystem) MetersPerUnit() float64 {
	return u.metersPerUnit
}

// ToMeters converts a render distance to meters.
func (u UnitSystem) ToMeters(d float64) float64 {
	return d * u.metersPerUnit
}

// ToRenderUnits converts meters to render units.
func (u UnitSystem) ToRenderUnits(m float64) float64 {
	return m / u.metersPerUnit
}

// LightSpeed returns the speed of light in render units per second.
func (u UnitSystem) LightSpeed() float64 {
	return C / u.metersPerUnit
}

// String implements the Stringer interface.
func (u UnitSystem) String() string {
	return fmt.Sprintf("%g m/unit", u.metersPerUnit)
}

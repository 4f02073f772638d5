package lensing

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"
)

const (
	// DefaultMinHorizon is the smallest horizon drawn, in render units.
	DefaultMinHorizon = 2.0
	// DefaultMaxHorizon is the largest horizon drawn, in render units.
	DefaultMaxHorizon = 500.0
)

// HorizonBounds limits the horizon radius in render units so that the body stays visible
// and tractable whatever its mass.
type HorizonBounds struct {
	Min, Max float64
}

// DefaultHorizonBounds returns [2, 500].
func DefaultHorizonBounds() HorizonBounds {
	return HorizonBounds{DefaultMinHorizon, DefaultMaxHorizon}
}

// Validate returns an error if the bounds cannot be used.
func (h HorizonBounds) Validate() error {
	if !(h.Min > 0) || !(h.Max >= h.Min) || math.IsInf(h.Max, 0) {
		return fmt.Errorf("%w: [%g, %g]", ErrInvalidHorizonBounds, h.Min, h.Max)
	}
	return nil
}

// Clamp returns r limited to the bounds.
func (h HorizonBounds) Clamp(r float64) float64 {
	return math.Min(math.Max(r, h.Min), h.Max)
}

// HorizonRadius returns the Schwarzschild radius of the provided mass in meters (unclamped) and
// in render units (clamped to bounds).
func HorizonRadius(mass float64, u UnitSystem, bounds HorizonBounds) (radiusSI, radiusRender float64) {
	radiusSI = 2 * G * mass / (C * C)
	radiusRender = bounds.Clamp(u.ToRenderUnits(radiusSI))
	return
}

// Body is a fixed gravitating point mass.
type Body struct {
	Name          string
	Position      r2.Vec  // render units
	Mass          float64 // kg
	Horizon       float64 // Schwarzschild radius in meters, drives the curvature
	HorizonRender float64 // clamped horizon in render units, drives capture
	units         UnitSystem
}

// NewBody returns a new body of the given mass (in kg) at the given render position.
func NewBody(name string, position r2.Vec, mass float64, u UnitSystem, bounds HorizonBounds) (*Body, error) {
	if !(mass > 0) || math.IsInf(mass, 0) {
		return nil, fmt.Errorf("%w: %s has %g kg", ErrInvalidMass, name, mass)
	}
	if u.metersPerUnit <= 0 {
		return nil, fmt.Errorf("%w: body %s created without a unit system", ErrInvalidScale, name)
	}
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	rSI, rRender := HorizonRadius(mass, u, bounds)
	return &Body{Name: name, Position: position, Mass: mass, Horizon: rSI, HorizonRender: rRender, units: u}, nil
}

// Units returns the unit system this body was created in.
func (b *Body) Units() UnitSystem {
	return b.units
}

// SolarMasses returns the mass in solar masses.
func (b *Body) SolarMasses() float64 {
	return b.Mass / SolarMass
}

// Field returns the geodesic field of this body.
func (b *Body) Field() Field {
	return Field{Units: b.units, Horizon: b.Horizon}
}

// String implements the Stringer interface.
func (b *Body) String() string {
	return fmt.Sprintf("%s (%.3g M☉, r_s=%.3g m, %.2f units)", b.Name, b.SolarMasses(), b.Horizon, b.HorizonRender)
}

// Preset is a named black hole.
type Preset struct {
	Name        string
	SolarMasses float64
}

// Mass returns the preset mass in kg.
func (p Preset) Mass() float64 {
	return p.SolarMasses * SolarMass
}

/* Definitions */

// SagittariusA is the black hole at the center of the Milky Way.
var SagittariusA = Preset{"Sgr A*", 4.297e6}

// M87 is the first imaged black hole.
var M87 = Preset{"M87*", 6.5e9}

// CygnusX1 is a stellar mass black hole.
var CygnusX1 = Preset{"Cygnus X-1", 21.2}

// TON618 is one of the most massive black holes known.
var TON618 = Preset{"TON 618", 6.6e10}

// PresetFromString returns the preset from its name.
func PresetFromString(name string) (Preset, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sgr a*", "sgra", "sagittarius a*", "sagittarius":
		return SagittariusA, nil
	case "m87", "m87*":
		return M87, nil
	case "cygnus x-1", "cygx1", "cygnus":
		return CygnusX1, nil
	case "ton 618", "ton618":
		return TON618, nil
	default:
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
}

package lensing

import "math"

const (
	// maxAngularRate bounds |dφ/dλ| in every evaluation of the field.
	maxAngularRate = 1e6
	// minRadius guards the angular acceleration against r → 0.
	minRadius = 1e-6
)

// Field is the right hand side of the ray equations of motion around a body:
// (r, φ, ṙ, φ̇) ↦ (ṙ, φ̇, r̈, φ̈). This is a weak field approximation, not the exact null
// geodesic of the Schwarzschild metric.
type Field struct {
	Units   UnitSystem
	Horizon float64 // Schwarzschild radius in meters
}

// Func implements integrator.Func. The field is autonomous so t is ignored.
func (f Field) Func(_ float64, s, fDot []float64) {
	r, dr := s[0], s[2]
	dφ := math.Max(-maxAngularRate, math.Min(s[3], maxAngularRate))

	// Curvature is computed in meters then brought back with the same linear scale.
	rm := f.Units.ToMeters(r)
	curvature := f.Units.ToRenderUnits(C * C * f.Horizon / (2 * rm * rm))

	fDot[0] = dr
	fDot[1] = dφ
	fDot[2] = r*dφ*dφ - curvature
	fDot[3] = -2 * dr * dφ / math.Max(r, minRadius)
}

// Derivative returns the derivative of the provided state.
func (f Field) Derivative(s State) (d State) {
	f.Func(0, s[:], d[:])
	return
}

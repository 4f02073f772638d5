package lensing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// State is the polar state of a ray relative to its body: r, φ, dr/dλ, dφ/dλ.
type State [4]float64

// R returns the radial distance in render units.
func (s State) R() float64 { return s[0] }

// Phi returns the polar angle in radians.
func (s State) Phi() float64 { return s[1] }

// DR returns dr/dλ.
func (s State) DR() float64 { return s[2] }

// DPhi returns dφ/dλ.
func (s State) DPhi() float64 { return s[3] }

// String implements the Stringer interface.
func (s State) String() string {
	return fmt.Sprintf("r=%.4f φ=%.4f ṙ=%.4g φ̇=%.4g", s[0], s[1], s[2], s[3])
}

// RayID identifies a ray within a simulation.
type RayID uint64

// Ray is a single light ray travelling around a body.
type Ray struct {
	ID     RayID
	Origin r2.Vec
	Status Status
	Steps  uint64 // number of integration steps performed
	state  State
	pos    r2.Vec
	trail  *Trail
}

// NewRay returns a ray starting at origin and heading in direction, which need not be a unit vector.
func NewRay(origin, direction r2.Vec, b *Body) (*Ray, error) {
	if b == nil {
		return nil, ErrNoBody
	}
	s, err := initialState(origin, direction, b)
	if err != nil {
		return nil, err
	}
	return &Ray{Origin: origin, state: s, pos: origin, trail: NewTrail(TrailCapacity)}, nil
}

// NewRayToward returns a ray starting at origin and heading toward target.
func NewRayToward(origin, target r2.Vec, b *Body) (*Ray, error) {
	return NewRay(origin, r2.Sub(target, origin), b)
}

// initialState projects the unit direction on the local radial and tangential basis.
func initialState(origin, direction r2.Vec, b *Body) (State, error) {
	offset := r2.Sub(origin, b.Position)
	r := r2.Norm(offset)
	if r == 0 {
		return State{}, fmt.Errorf("%w: %v", ErrRayAtCenter, origin)
	}
	dirNorm := r2.Norm(direction)
	if dirNorm == 0 || math.IsNaN(dirNorm) {
		return State{}, fmt.Errorf("%w: %v", ErrZeroDirection, direction)
	}
	u := r2.Scale(1/dirNorm, direction)
	φ := math.Atan2(offset.Y, offset.X)
	sφ, cφ := math.Sincos(φ)
	c := b.units.LightSpeed()
	radial := r2.Vec{X: cφ, Y: sφ}
	tangential := r2.Vec{X: -sφ, Y: cφ}
	return State{r, φ, c * r2.Dot(u, radial), c * r2.Dot(u, tangential) / r}, nil
}

// State returns the current polar state.
func (r *Ray) State() State {
	return r.state
}

// Position returns the current Cartesian position in render units.
func (r *Ray) Position() r2.Vec {
	return r.pos
}

// Trail returns the trail of this ray. It must not be modified by the caller.
func (r *Ray) Trail() *Trail {
	return r.trail
}

// Active returns whether this ray is still integrated.
func (r *Ray) Active() bool {
	return r.Status == Active
}

// Velocity returns the Cartesian velocity in render units per unit of affine parameter.
func (r *Ray) Velocity() r2.Vec {
	sφ, cφ := math.Sincos(r.state[1])
	tan := r.state[0] * r.state[3]
	return r2.Vec{X: r.state[2]*cφ - tan*sφ, Y: r.state[2]*sφ + tan*cφ}
}

// sync recomputes the Cartesian position from the polar state and records it in the trail.
func (r *Ray) sync(b *Body) {
	sφ, cφ := math.Sincos(r.state[1])
	r.pos = r2.Vec{X: b.Position.X + r.state[0]*cφ, Y: b.Position.Y + r.state[0]*sφ}
	r.trail.Push(r.pos)
	r.Steps++
}

// rebase expresses the ray in the polar frame of another body, keeping its Cartesian position and velocity.
func (r *Ray) rebase(b *Body) error {
	v := r.Velocity()
	offset := r2.Sub(r.pos, b.Position)
	ρ := r2.Norm(offset)
	if ρ == 0 {
		return fmt.Errorf("%w: %v", ErrRayAtCenter, r.pos)
	}
	φ := math.Atan2(offset.Y, offset.X)
	sφ, cφ := math.Sincos(φ)
	r.state = State{ρ, φ, v.X*cφ + v.Y*sφ, (-v.X*sφ + v.Y*cφ) / ρ}
	return nil
}

// classify returns the status of the ray after a step.
func (r *Ray) classify(b *Body, bounds Bounds) Status {
	if r.state[0] < b.HorizonRender {
		return Captured
	}
	if !bounds.Contains(r.pos) {
		return Escaped
	}
	return Active
}

// String implements the Stringer interface.
func (r *Ray) String() string {
	return fmt.Sprintf("ray #%d [%s] pos=(%.2f, %.2f) %s", r.ID, r.Status, r.pos.X, r.pos.Y, r.state)
}

package lensing

import (
	"fmt"
	"math"

	"github.com/ChristopherRabotin/lensing/integrator"
	kitlog "github.com/go-kit/kit/log"
)

// Propagator advances rays around a body by one fixed affine parameter step at a time.
// It owns its RK4 buffers and must not be shared between goroutines.
type Propagator struct {
	body *Body
	step float64
	fn   integrator.Func
	st   *integrator.Stepper
}

// NewPropagator returns a propagator around b with the provided step size.
func NewPropagator(b *Body, step float64) (*Propagator, error) {
	if b == nil {
		return nil, ErrNoBody
	}
	if !(step > 0) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("%w: %g", ErrInvalidStep, step)
	}
	return &Propagator{body: b, step: step, fn: b.Field().Func, st: integrator.NewStepper(len(State{}))}, nil
}

// Body returns the body this propagator integrates around.
func (p *Propagator) Body() *Body {
	return p.body
}

// StepSize returns the affine parameter increment.
func (p *Propagator) StepSize() float64 {
	return p.step
}

// Step integrates the ray by one step and records its new position in the trail.
// It is a no-op returning false if the ray is inactive or already inside the horizon.
func (p *Propagator) Step(r *Ray) bool {
	if !r.Active() || r.state[0] < p.body.HorizonRender {
		return false
	}
	p.st.Step(0, p.step, r.state[:], p.fn)
	r.sync(p.body)
	return true
}

// Trace follows a single ray until it is captured, escapes or MaxSteps is reached.
// It implements integrator.Integrable.
type Trace struct {
	Ray      *Ray
	Body     *Body
	Bounds   Bounds
	MaxSteps uint64 // zero means no limit
	field    Field
	logger   kitlog.Logger
}

// NewTrace returns a new trace of r around b.
func NewTrace(r *Ray, b *Body, bounds Bounds, maxSteps uint64, logger kitlog.Logger) *Trace {
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	return &Trace{Ray: r, Body: b, Bounds: bounds, MaxSteps: maxSteps, field: b.Field(), logger: kitlog.With(logger, "ray", r.ID)}
}

// Run integrates the ray with the provided step size. Blocking.
// Returns the number of steps performed.
func (t *Trace) Run(step float64) (uint64, error) {
	if !(step > 0) || math.IsInf(step, 0) {
		return 0, fmt.Errorf("%w: %g", ErrInvalidStep, step)
	}
	iter, λ, err := integrator.NewRK4(0, step, t).Solve()
	if err != nil {
		t.logger.Log("level", "critical", "subsys", "trace", "λ", λ, "err", err)
		return iter, err
	}
	t.logger.Log("level", "notice", "subsys", "trace", "status", t.Ray.Status, "steps", iter, "λ", λ, "state", t.Ray.state)
	return iter, nil
}

// GetState returns the ray state for the integrator.
func (t *Trace) GetState() []float64 {
	return t.Ray.state[:]
}

// SetState sets the updated state and classifies the ray.
func (t *Trace) SetState(i uint64, s []float64) {
	copy(t.Ray.state[:], s)
	t.Ray.sync(t.Body)
	t.Ray.Status = t.Ray.classify(t.Body, t.Bounds)
}

// Stop implements the stop call of the integrator.
func (t *Trace) Stop(i uint64) bool {
	if !t.Ray.Active() {
		return true
	}
	if t.Ray.state[0] < t.Body.HorizonRender {
		// Spawned inside the horizon.
		t.Ray.Status = Captured
		return true
	}
	if t.MaxSteps > 0 && i >= t.MaxSteps {
		t.logger.Log("level", "warning", "subsys", "trace", "status", "step limit", "steps", i)
		return true
	}
	return false
}

// Func is the geodesic field of the body.
func (t *Trace) Func(λ float64, s, fDot []float64) {
	t.field.Func(λ, s, fDot)
}

package integrator

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrDiverged is returned by Solve when the state is no longer a number.
var ErrDiverged = errors.New("integrator: state diverged (NaN)")

// Stepper performs single classical RK4 steps over states of a fixed dimension.
// Buffers are allocated once, so a Stepper must not be shared between goroutines.
type Stepper struct {
	k1, k2, k3, k4 []float64
	tState         []float64
}

// NewStepper returns a Stepper for states of dimension dim.
func NewStepper(dim int) *Stepper {
	if dim <= 0 {
		panic("stepper dimension must be positive")
	}
	buf := make([]float64, 5*dim)
	return &Stepper{
		k1:     buf[0*dim : 1*dim : 1*dim],
		k2:     buf[1*dim : 2*dim : 2*dim],
		k3:     buf[2*dim : 3*dim : 3*dim],
		k4:     buf[3*dim : 4*dim : 4*dim],
		tState: buf[4*dim : 5*dim : 5*dim],
	}
}

// Dim returns the dimension of the states this stepper handles.
func (st *Stepper) Dim() int {
	return len(st.k1)
}

// Step advances y from t to t+h in place.
func (st *Stepper) Step(t, h float64, y []float64, f Func) {
	if len(y) != len(st.k1) {
		panic(fmt.Errorf("state of dimension %d given to a stepper of dimension %d", len(y), len(st.k1)))
	}
	const (
		half     = 1 / 2.0
		oneSixth = 1 / 6.0
		oneThird = 1 / 3.0
	)
	halfStep := h * half

	// Compute the k's.
	f(t, y, st.k1)
	floats.AddScaledTo(st.tState, y, halfStep, st.k1)
	f(t+halfStep, st.tState, st.k2)
	floats.AddScaledTo(st.tState, y, halfStep, st.k2)
	f(t+halfStep, st.tState, st.k3)
	floats.AddScaledTo(st.tState, y, h, st.k3)
	f(t+h, st.tState, st.k4)

	// y += h/6 (k1 + 2 k2 + 2 k3 + k4)
	floats.AddScaled(y, h*oneSixth, st.k1)
	floats.AddScaled(y, h*oneThird, st.k2)
	floats.AddScaled(y, h*oneThird, st.k3)
	floats.AddScaled(y, h*oneSixth, st.k4)
}

// RK4 defines an RK4 integrator which solves an Integrable until it requests to stop.
type RK4 struct {
	X0         float64    // The initial x0.
	StepSize   float64    // The step size.
	Integrable Integrable // What is to be integrated.
}

// NewRK4 returns a new RK4 integrator instance.
func NewRK4(x0 float64, stepSize float64, inte Integrable) (r *RK4) {
	if !(stepSize > 0) {
		panic("config StepSize must be positive")
	}
	if inte == nil {
		panic("config Integrable may not be nil")
	}
	r = &RK4{X0: x0, StepSize: stepSize, Integrable: inte}
	return
}

// Solve solves the configured RK4.
// Returns the number of iterations performed and the last X_i, or an error.
func (r *RK4) Solve() (uint64, float64, error) {
	iterNum := uint64(0)
	xi := r.X0
	state := r.Integrable.GetState()
	st := NewStepper(len(state))
	y := make([]float64, len(state))
	for !r.Integrable.Stop(iterNum) {
		copy(y, r.Integrable.GetState())
		st.Step(xi, r.StepSize, y, r.Integrable.Func)
		if floats.HasNaN(y) {
			return iterNum, xi, fmt.Errorf("%w @ iteration %d (x=%g): %v", ErrDiverged, iterNum, xi, y)
		}
		r.Integrable.SetState(iterNum, y)
		xi += r.StepSize
		iterNum++ // Don't forget to increment the number of iterations.
	}
	return iterNum, xi, nil
}

// IsFinite returns whether all the components of s are finite.
func IsFinite(s []float64) bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

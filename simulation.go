package lensing

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/ChristopherRabotin/lensing/integrator"
	kitlog "github.com/go-kit/kit/log"
	"gonum.org/v1/gonum/spatial/r2"
)

// parallelThreshold is the number of active rays below which a frame is stepped serially.
const parallelThreshold = 64

// Status is the lifecycle state of a ray.
type Status uint8

const (
	// Active rays are integrated every frame.
	Active Status = iota
	// Captured rays fell below the horizon.
	Captured
	// Escaped rays left the simulation bounds.
	Escaped
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Captured:
		return "captured"
	case Escaped:
		return "escaped"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Bounds is the axis aligned rectangle outside of which rays escape.
type Bounds struct {
	Min, Max r2.Vec
}

// NewBounds returns the rectangle [0, width]x[0, height].
func NewBounds(width, height float64) Bounds {
	return Bounds{Max: r2.Vec{X: width, Y: height}}
}

// Contains returns whether p is within the bounds (edges included).
func (b Bounds) Contains(p r2.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// Validate returns an error if the rectangle is empty.
func (b Bounds) Validate() error {
	if !(b.Max.X > b.Min.X) || !(b.Max.Y > b.Min.Y) {
		return fmt.Errorf("%w: %v to %v", ErrInvalidBounds, b.Min, b.Max)
	}
	return nil
}

// Size returns the width and height.
func (b Bounds) Size() (float64, float64) {
	return b.Max.X - b.Min.X, b.Max.Y - b.Min.Y
}

// Center returns the center of the rectangle.
func (b Bounds) Center() r2.Vec {
	return r2.Scale(0.5, r2.Add(b.Min, b.Max))
}

// RaySnapshot is a read-only copy of a ray after a frame.
type RaySnapshot struct {
	ID       RayID
	Position r2.Vec
	State    State
	Status   Status
	Steps    uint64
	Trail    []r2.Vec // oldest first
}

// Frame is the outcome of one AdvanceFrame call.
type Frame struct {
	Number uint64
	Step   float64
	Rays   []RaySnapshot // every ray stepped this frame, including those which just terminated
}

// Terminated returns the number of rays which reached a terminal state in this frame.
func (f Frame) Terminated() (captured, escaped int) {
	for _, r := range f.Rays {
		switch r.Status {
		case Captured:
			captured++
		case Escaped:
			escaped++
		}
	}
	return
}

// Simulation owns a body and the set of rays around it. All its methods are safe for concurrent use.
type Simulation struct {
	Name    string
	mu      sync.Mutex
	units   UnitSystem
	horizon HorizonBounds
	bounds  Bounds
	step    float64
	workers int
	keep    bool
	body    *Body
	props   []*Propagator
	rays    []*Ray
	nextID  RayID
	frame   uint64
	conf    Config
	logger  kitlog.Logger
	metrics *Metrics
	// Export
	frames    chan Frame
	exportWG  sync.WaitGroup
	exportErr error
	closed    bool
}

// NewSimulation returns a new simulation from the provided configuration.
// A body is created if the configuration has one.
func NewSimulation(conf Config, logger kitlog.Logger) (*Simulation, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	units, err := NewUnitSystem(conf.MetersPerUnit)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	workers := conf.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s := &Simulation{
		Name:    conf.Name,
		units:   units,
		horizon: conf.Horizon,
		bounds:  conf.Bounds,
		step:    conf.Step,
		workers: workers,
		keep:    conf.KeepTerminated,
		conf:    conf,
		logger:  kitlog.With(logger, "sim", conf.Name),
	}
	if conf.Body.Mass > 0 {
		if _, err := s.CreateBody(conf.Body.Name, r2.Vec{X: conf.Body.X, Y: conf.Body.Y}, conf.Body.Mass); err != nil {
			return nil, err
		}
	}
	if !conf.Export.IsUseless() {
		s.frames = make(chan Frame, 1000) // a 1k entry buffer
		s.exportWG.Add(1)
		go func() {
			defer s.exportWG.Done()
			s.exportErr = StreamFrames(conf.Export, conf.Name, s.frames)
			if s.exportErr != nil {
				s.logger.Log("level", "critical", "subsys", "export", "err", s.exportErr)
			}
		}()
	}
	s.logger.Log("level", "info", "subsys", "stepper", "units", units, "bounds", fmt.Sprintf("%v-%v", conf.Bounds.Min, conf.Bounds.Max), "step", conf.Step, "workers", workers)
	return s, nil
}

// Instrument attaches metrics to this simulation.
func (s *Simulation) Instrument(m *Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Config returns the configuration the simulation was created with.
func (s *Simulation) Config() Config {
	return s.conf
}

// Units returns the unit system.
func (s *Simulation) Units() UnitSystem {
	return s.units
}

// Bounds returns the escape rectangle.
func (s *Simulation) Bounds() Bounds {
	return s.bounds
}

// StepSize returns the configured step size.
func (s *Simulation) StepSize() float64 {
	return s.step
}

// Body returns the current body, or nil.
func (s *Simulation) Body() *Body {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.body
}

// CreateBody sets the gravitating body of the simulation. If a body already exists, the active rays
// are expressed around the new body, keeping their position and velocity.
func (s *Simulation) CreateBody(name string, position r2.Vec, mass float64) (*Body, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := NewBody(name, position, mass, s.units, s.horizon)
	if err != nil {
		return nil, err
	}
	if s.body != nil {
		for _, r := range s.rays {
			if !r.Active() {
				continue
			}
			if err := r.rebase(b); err != nil {
				r.Status = Captured
				s.logger.Log("level", "warning", "subsys", "stepper", "ray", r.ID, "rebase", err)
			}
		}
	}
	s.body = b
	s.props = nil
	s.logger.Log("level", "info", "subsys", "stepper", "body", b, "x", position.X, "y", position.Y)
	return b, nil
}

// SpawnRay adds a ray starting at origin heading in direction.
func (s *Simulation) SpawnRay(origin, direction r2.Vec) (RayID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawn(origin, direction)
}

// SpawnRayToward adds a ray starting at origin heading toward target.
func (s *Simulation) SpawnRayToward(origin, target r2.Vec) (RayID, error) {
	return s.SpawnRay(origin, r2.Sub(target, origin))
}

// SpawnBeam adds count parallel rays heading in direction, centered on origin and spaced
// perpendicularly to the direction. Either every ray of the beam is spawned or none is.
func (s *Simulation) SpawnBeam(origin, direction r2.Vec, count int, spacing float64) ([]RayID, error) {
	if count <= 0 {
		return nil, fmt.Errorf("beam of %d rays", count)
	}
	if math.IsNaN(spacing) || math.IsInf(spacing, 0) {
		return nil, fmt.Errorf("beam spacing %g", spacing)
	}
	n := r2.Norm(direction)
	if n == 0 || math.IsNaN(n) {
		return nil, fmt.Errorf("%w: %v", ErrZeroDirection, direction)
	}
	perp := r2.Vec{X: -direction.Y / n, Y: direction.X / n}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.body == nil {
		return nil, ErrNoBody
	}
	rays := make([]*Ray, count)
	for i := range rays {
		offset := (float64(i) - float64(count-1)/2) * spacing
		r, err := NewRay(r2.Add(origin, r2.Scale(offset, perp)), direction, s.body)
		if err != nil {
			return nil, fmt.Errorf("beam ray %d: %w", i, err)
		}
		rays[i] = r
	}
	ids := make([]RayID, count)
	for i, r := range rays {
		ids[i] = s.add(r)
	}
	return ids, nil
}

// SpawnConfigured adds the rays and beams listed in the configuration.
func (s *Simulation) SpawnConfigured() ([]RayID, error) {
	var ids []RayID
	for i, rc := range s.conf.Rays {
		id, err := s.SpawnRay(rc.Origin(), rc.Direction())
		if err != nil {
			return ids, fmt.Errorf("rays.%d: %w", i, err)
		}
		ids = append(ids, id)
	}
	for i, bc := range s.conf.Beams {
		beam, err := s.SpawnBeam(r2.Vec{X: bc.X, Y: bc.Y}, r2.Vec{X: bc.DX, Y: bc.DY}, bc.Count, bc.Spacing)
		ids = append(ids, beam...)
		if err != nil {
			return ids, fmt.Errorf("beams.%d: %w", i, err)
		}
	}
	return ids, nil
}

func (s *Simulation) spawn(origin, direction r2.Vec) (RayID, error) {
	if s.body == nil {
		return 0, ErrNoBody
	}
	r, err := NewRay(origin, direction, s.body)
	if err != nil {
		return 0, err
	}
	return s.add(r), nil
}

// add assigns the next ID to r and starts tracking it.
func (s *Simulation) add(r *Ray) RayID {
	s.nextID++
	r.ID = s.nextID
	s.rays = append(s.rays, r)
	s.metrics.raySpawned()
	return r.ID
}

// Step advances the simulation by one frame of the configured step size.
func (s *Simulation) Step() (Frame, error) {
	return s.AdvanceFrame(s.step)
}

// AdvanceFrame integrates every active ray by one step, classifies it and returns the frame.
// Rays which terminate are reported once and then pruned, unless KeepTerminated is set.
func (s *Simulation) AdvanceFrame(step float64) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.body == nil {
		return Frame{}, ErrNoBody
	}
	if err := s.ensurePropagators(step); err != nil {
		return Frame{}, err
	}
	start := time.Now()

	stepped := make([]*Ray, 0, len(s.rays))
	for _, r := range s.rays {
		if r.Active() {
			stepped = append(stepped, r)
		}
	}

	workers := s.workers
	if len(stepped) < parallelThreshold {
		workers = 1
	}
	chunk := (len(stepped) + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers && w*chunk < len(stepped); w++ {
		lo, hi := w*chunk, (w+1)*chunk
		if hi > len(stepped) {
			hi = len(stepped)
		}
		wg.Add(1)
		go func(p *Propagator, rays []*Ray) {
			defer wg.Done()
			for _, r := range rays {
				s.advance(p, r)
			}
		}(s.props[w], stepped[lo:hi])
	}
	wg.Wait()

	s.frame++
	frame := Frame{Number: s.frame, Step: step, Rays: make([]RaySnapshot, len(stepped))}
	for i, r := range stepped {
		frame.Rays[i] = snapshot(r)
		if r.Active() {
			continue
		}
		s.metrics.rayTerminated(r.Status)
		s.logger.Log("level", "notice", "subsys", "stepper", "ray", r.ID, "status", r.Status, "frame", s.frame, "steps", r.Steps, "x", r.pos.X, "y", r.pos.Y)
		if !integrator.IsFinite(r.state[:]) {
			s.logger.Log("level", "critical", "subsys", "stepper", "ray", r.ID, "state", r.state)
		}
	}
	if !s.keep {
		s.prune()
	}
	s.metrics.frameDone(time.Since(start), len(stepped), s.countActive())
	if s.frames != nil && !s.closed {
		s.frames <- frame
	}
	return frame, nil
}

// advance steps one ray and updates its status.
func (s *Simulation) advance(p *Propagator, r *Ray) {
	if !p.Step(r) {
		// Only rays which are already inside the horizon are not stepped.
		r.Status = Captured
		return
	}
	r.Status = r.classify(p.body, s.bounds)
}

func (s *Simulation) ensurePropagators(step float64) error {
	if len(s.props) == s.workers && s.props[0].step == step && s.props[0].body == s.body {
		return nil
	}
	props := make([]*Propagator, s.workers)
	for i := range props {
		p, err := NewPropagator(s.body, step)
		if err != nil {
			return err
		}
		props[i] = p
	}
	s.props = props
	return nil
}

func (s *Simulation) prune() int {
	kept := s.rays[:0]
	for _, r := range s.rays {
		if r.Active() {
			kept = append(kept, r)
		}
	}
	removed := len(s.rays) - len(kept)
	for i := len(kept); i < len(s.rays); i++ {
		s.rays[i] = nil
	}
	s.rays = kept
	return removed
}

func (s *Simulation) countActive() (n int) {
	for _, r := range s.rays {
		if r.Active() {
			n++
		}
	}
	return
}

// RemoveTerminated removes the captured and escaped rays and returns how many were removed.
func (s *Simulation) RemoveTerminated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prune()
}

// Clear removes all the rays.
func (s *Simulation) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rays = nil
	s.metrics.setActive(0)
}

// Active returns the number of active rays.
func (s *Simulation) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActive()
}

// Frame returns the number of frames advanced so far.
func (s *Simulation) Frame() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Rays returns a snapshot of every ray held by the simulation.
func (s *Simulation) Rays() []RaySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]RaySnapshot, len(s.rays))
	for i, r := range s.rays {
		snaps[i] = snapshot(r)
	}
	return snaps
}

// Run advances frames until no ray is active or maxFrames is reached (zero means no limit).
// If onFrame is not nil, it is called with every frame. Returns the number of frames advanced.
func (s *Simulation) Run(maxFrames uint64, onFrame func(Frame)) (uint64, error) {
	var n uint64
	for s.Active() > 0 {
		if maxFrames > 0 && n >= maxFrames {
			s.logger.Log("level", "warning", "subsys", "stepper", "status", "frame limit", "frames", n, "active", s.Active())
			break
		}
		frame, err := s.Step()
		if err != nil {
			return n, err
		}
		n++
		if onFrame != nil {
			onFrame(frame)
		}
	}
	return n, nil
}

// Close stops the export, if any, and waits for all the files to be written.
func (s *Simulation) Close() error {
	s.mu.Lock()
	if s.frames != nil && !s.closed {
		close(s.frames)
	}
	s.closed = true
	s.mu.Unlock()
	s.exportWG.Wait()
	return s.exportErr
}

func snapshot(r *Ray) RaySnapshot {
	return RaySnapshot{ID: r.ID, Position: r.pos, State: r.state, Status: r.Status, Steps: r.Steps, Trail: r.trail.Points()}
}

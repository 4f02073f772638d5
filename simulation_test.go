package lensing

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r2"
)

func testConfig() Config {
	conf := DefaultConfig()
	conf.Name = "test"
	conf.Workers = 1
	return conf
}

func newTestSimulation(t *testing.T, conf Config) *Simulation {
	s, err := NewSimulation(conf, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Error(err)
		}
	})
	return s
}

func TestNewSimulationInvalid(t *testing.T) {
	for _, tc := range []struct {
		edit func(*Config)
		err  error
	}{
		{func(c *Config) { c.Step = 0 }, ErrInvalidStep},
		{func(c *Config) { c.Step = math.Inf(1) }, ErrInvalidStep},
		{func(c *Config) { c.MetersPerUnit = -1 }, ErrInvalidScale},
		{func(c *Config) { c.Bounds = NewBounds(0, 600) }, ErrInvalidBounds},
		{func(c *Config) { c.Horizon = HorizonBounds{10, 1} }, ErrInvalidHorizonBounds},
		{func(c *Config) { c.Body.Mass = -SolarMass }, ErrInvalidMass},
		{func(c *Config) { c.Body.Mass = math.NaN() }, ErrInvalidMass},
	} {
		conf := testConfig()
		tc.edit(&conf)
		if _, err := NewSimulation(conf, nil); !errors.Is(err, tc.err) {
			t.Fatalf("expected %v, got %v", tc.err, err)
		}
	}
}

func TestSimulationNoBody(t *testing.T) {
	conf := testConfig()
	conf.Body.Mass = 0
	s := newTestSimulation(t, conf)
	if s.Body() != nil {
		t.Fatal("body created without mass")
	}
	if _, err := s.SpawnRay(r2.Vec{X: 10}, r2.Vec{X: 1}); !errors.Is(err, ErrNoBody) {
		t.Fatalf("expected ErrNoBody, got %v", err)
	}
	if _, err := s.Step(); !errors.Is(err, ErrNoBody) {
		t.Fatalf("expected ErrNoBody, got %v", err)
	}
	if _, err := s.CreateBody("late", r2.Vec{X: 400, Y: 300}, SolarMass); err != nil {
		t.Fatal(err)
	}
	id, err := s.SpawnRay(r2.Vec{X: 10}, r2.Vec{X: 1})
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Fatalf("first ray has ID %d", id)
	}
	if _, err := s.CreateBody("bad", r2.Vec{}, 0); !errors.Is(err, ErrInvalidMass) {
		t.Fatalf("expected ErrInvalidMass, got %v", err)
	}
	if s.Body().Name != "late" {
		t.Fatal("invalid body replaced the current one")
	}
}

func TestSimulationSpawn(t *testing.T) {
	s := newTestSimulation(t, testConfig())
	if _, err := s.SpawnRay(s.Body().Position, r2.Vec{X: 1}); !errors.Is(err, ErrRayAtCenter) {
		t.Fatalf("expected ErrRayAtCenter, got %v", err)
	}
	if _, err := s.SpawnRay(r2.Vec{X: 10}, r2.Vec{}); !errors.Is(err, ErrZeroDirection) {
		t.Fatalf("expected ErrZeroDirection, got %v", err)
	}
	// Rejected rays do not consume IDs.
	for exp := RayID(1); exp <= 3; exp++ {
		id, err := s.SpawnRayToward(r2.Vec{X: 10, Y: float64(exp)}, r2.Vec{X: 20, Y: float64(exp)})
		if err != nil {
			t.Fatal(err)
		}
		if id != exp {
			t.Fatalf("ID %d, expected %d", id, exp)
		}
	}
	if s.Active() != 3 || len(s.Rays()) != 3 {
		t.Fatalf("%d active rays", s.Active())
	}
	s.Clear()
	if s.Active() != 0 || len(s.Rays()) != 0 {
		t.Fatal("clear kept rays")
	}
	if id, _ := s.SpawnRay(r2.Vec{X: 10}, r2.Vec{X: 1}); id != 4 {
		t.Fatalf("IDs restarted after clear: %d", id)
	}
}

func TestSimulationSpawnBeam(t *testing.T) {
	s := newTestSimulation(t, testConfig())
	ids, err := s.SpawnBeam(r2.Vec{X: 1, Y: 300}, r2.Vec{X: 2}, 5, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 5 {
		t.Fatalf("%d rays spawned", len(ids))
	}
	for i, r := range s.rays {
		exp := r2.Vec{X: 1, Y: 280 + 10*float64(i)}
		if !scalar.EqualWithinAbs(r.Origin.X, exp.X, 1e-12) || !scalar.EqualWithinAbs(r.Origin.Y, exp.Y, 1e-12) {
			t.Fatalf("ray %d starts at %v, expected %v", i, r.Origin, exp)
		}
		if v := r.Velocity(); !scalar.EqualWithinAbs(v.X, s.Units().LightSpeed(), 1e-9) || !scalar.EqualWithinAbs(v.Y, 0, 1e-9) {
			t.Fatalf("ray %d heads %v", i, v)
		}
	}
	if _, err := s.SpawnBeam(r2.Vec{X: 1, Y: 300}, r2.Vec{X: 1}, 0, 10); err == nil {
		t.Fatal("empty beam accepted")
	}
	if _, err := s.SpawnBeam(r2.Vec{X: 1, Y: 300}, r2.Vec{}, 3, 10); !errors.Is(err, ErrZeroDirection) {
		t.Fatalf("expected ErrZeroDirection, got %v", err)
	}
	// The middle ray starts on the body center: none of the beam is spawned.
	ids, err = s.SpawnBeam(s.Body().Position, r2.Vec{X: 1}, 3, 10)
	if !errors.Is(err, ErrRayAtCenter) || len(ids) != 0 {
		t.Fatalf("expected ErrRayAtCenter and no IDs, got %v and %v", err, ids)
	}
	if s.Active() != 5 {
		t.Fatalf("%d active rays after a rejected beam", s.Active())
	}
	if id, err := s.SpawnRay(r2.Vec{X: 10}, r2.Vec{X: 1}); err != nil || id != 6 {
		t.Fatalf("rejected beam consumed IDs: got %d, %v", id, err)
	}
}

func TestSimulationSpawnConfigured(t *testing.T) {
	conf := testConfig()
	conf.Rays = []RayConfig{{X: 10, Y: 10, DX: 1}, {X: 10, Y: 20, TX: 400, TY: 300}}
	conf.Beams = []BeamConfig{{X: 1, Y: 300, DX: 1, Count: 4, Spacing: 5}}
	s := newTestSimulation(t, conf)
	ids, err := s.SpawnConfigured()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 6 || s.Active() != 6 {
		t.Fatalf("%d rays spawned", len(ids))
	}
	conf.Rays = []RayConfig{{X: 400, Y: 300, DX: 1}}
	conf.Beams = nil
	s = newTestSimulation(t, conf)
	if _, err := s.SpawnConfigured(); !errors.Is(err, ErrRayAtCenter) {
		t.Fatalf("expected ErrRayAtCenter, got %v", err)
	}
}

func TestSimulationTermination(t *testing.T) {
	s := newTestSimulation(t, testConfig())
	in, err := s.SpawnRay(r2.Vec{X: 700, Y: 300}, r2.Vec{X: -1})
	if err != nil {
		t.Fatal(err)
	}
	out, err := s.SpawnRay(r2.Vec{X: 790, Y: 300}, r2.Vec{X: 1})
	if err != nil {
		t.Fatal(err)
	}
	reported := make(map[RayID]Status)
	for i := 0; i < 1000 && s.Active() > 0; i++ {
		frame, err := s.Step()
		if err != nil {
			t.Fatal(err)
		}
		if frame.Number != uint64(i+1) || frame.Step != DefaultStep {
			t.Fatalf("frame %+v", frame)
		}
		for _, r := range frame.Rays {
			if _, dup := reported[r.ID]; dup {
				t.Fatalf("ray %d reported after it terminated", r.ID)
			}
			if r.Status != Active {
				reported[r.ID] = r.Status
			}
			if last := r.Trail[len(r.Trail)-1]; last != r.Position {
				t.Fatalf("ray %d: trail ends at %v, not at %v", r.ID, last, r.Position)
			}
		}
	}
	if reported[in] != Captured || reported[out] != Escaped {
		t.Fatalf("terminations: %v", reported)
	}
	if len(s.Rays()) != 0 {
		t.Fatal("terminated rays were not pruned")
	}
	// Nothing to advance.
	frame, err := s.Step()
	if err != nil {
		t.Fatal(err)
	}
	if len(frame.Rays) != 0 {
		t.Fatalf("empty frame has %d rays", len(frame.Rays))
	}
}

func TestSimulationKeepTerminated(t *testing.T) {
	conf := testConfig()
	conf.KeepTerminated = true
	s := newTestSimulation(t, conf)
	if _, err := s.SpawnRay(r2.Vec{X: 700, Y: 300}, r2.Vec{X: -1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SpawnRay(r2.Vec{X: 790, Y: 300}, r2.Vec{X: 1}); err != nil {
		t.Fatal(err)
	}
	var seen uint64
	var captured, escaped int
	frames, err := s.Run(0, func(f Frame) {
		seen++
		c, e := f.Terminated()
		captured += c
		escaped += e
	})
	if err != nil {
		t.Fatal(err)
	}
	if frames != s.Frame() || frames != seen || frames > 450 {
		t.Fatalf("ran %d frames, saw %d", frames, seen)
	}
	if captured != 1 || escaped != 1 {
		t.Fatalf("captured %d, escaped %d", captured, escaped)
	}
	snaps := s.Rays()
	if len(snaps) != 2 || snaps[0].Status != Captured || snaps[1].Status != Escaped {
		t.Fatalf("rays: %+v", snaps)
	}
	// Terminated rays are not stepped again.
	steps := snaps[0].Steps
	frame, err := s.Step()
	if err != nil {
		t.Fatal(err)
	}
	if len(frame.Rays) != 0 || s.Rays()[0].Steps != steps {
		t.Fatal("terminated ray stepped")
	}
	if n := s.RemoveTerminated(); n != 2 {
		t.Fatalf("removed %d rays", n)
	}
	if len(s.Rays()) != 0 {
		t.Fatal("rays left after removal")
	}
}

func TestSimulationRunLimit(t *testing.T) {
	s := newTestSimulation(t, testConfig())
	if _, err := s.SpawnRay(r2.Vec{X: 700, Y: 300}, r2.Vec{X: -1}); err != nil {
		t.Fatal(err)
	}
	frames, err := s.Run(5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if frames != 5 || s.Active() != 1 || s.Rays()[0].Steps != 5 {
		t.Fatalf("ran %d frames", frames)
	}
}

func TestSimulationParallel(t *testing.T) {
	run := func(workers int) []RaySnapshot {
		conf := testConfig()
		conf.Workers = workers
		s := newTestSimulation(t, conf)
		if _, err := s.SpawnBeam(r2.Vec{X: 1, Y: 300}, r2.Vec{X: 1}, 2*parallelThreshold, 2); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 150; i++ {
			if _, err := s.Step(); err != nil {
				t.Fatal(err)
			}
		}
		return s.Rays()
	}
	serial, parallel := run(1), run(4)
	if len(serial) != len(parallel) || len(serial) == 0 {
		t.Fatalf("%d serial rays, %d parallel rays", len(serial), len(parallel))
	}
	for i := range serial {
		if serial[i].ID != parallel[i].ID || serial[i].State != parallel[i].State || serial[i].Status != parallel[i].Status {
			t.Fatalf("ray %d differs:\n%+v\n%+v", serial[i].ID, serial[i], parallel[i])
		}
	}
}

func TestSimulationCreateBodyRebase(t *testing.T) {
	s := newTestSimulation(t, testConfig())
	if _, err := s.SpawnRay(r2.Vec{X: 100, Y: 100}, r2.Vec{X: 1}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := s.Step(); err != nil {
			t.Fatal(err)
		}
	}
	r := s.rays[0]
	pos, vel := r.Position(), r.Velocity()
	b, err := s.CreateBody("moved", r2.Vec{X: 600, Y: 200}, 2*DefaultSolarMasses*SolarMass)
	if err != nil {
		t.Fatal(err)
	}
	if s.Body() != b {
		t.Fatal("body not replaced")
	}
	if r.Position() != pos || !scalar.EqualWithinAbs(r.State().R(), r2.Norm(r2.Sub(pos, b.Position)), 1e-12) {
		t.Fatalf("ray moved: %s", r)
	}
	if v := r.Velocity(); !scalar.EqualWithinAbs(v.X, vel.X, 1e-12) || !scalar.EqualWithinAbs(v.Y, vel.Y, 1e-12) {
		t.Fatalf("velocity changed from %v to %v", vel, v)
	}
	// The next frame integrates around the new body.
	if _, err := s.Step(); err != nil {
		t.Fatal(err)
	}
	if s.props[0].Body() != b {
		t.Fatal("propagator kept the previous body")
	}
}

func TestSimulationCloseTwice(t *testing.T) {
	s, err := NewSimulation(testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestBounds(t *testing.T) {
	b := NewBounds(800, 600)
	if w, h := b.Size(); w != 800 || h != 600 {
		t.Fatalf("size = %gx%g", w, h)
	}
	if b.Center() != (r2.Vec{X: 400, Y: 300}) {
		t.Fatalf("center = %v", b.Center())
	}
	for p, in := range map[r2.Vec]bool{{}: true, {X: 800, Y: 600}: true, {X: 400, Y: 300}: true, {X: -0.1}: false, {X: 10, Y: 600.1}: false} {
		if b.Contains(p) != in {
			t.Fatalf("Contains(%v) != %t", p, in)
		}
	}
	if err := (Bounds{Min: r2.Vec{X: 1, Y: 1}, Max: r2.Vec{X: 1, Y: 5}}).Validate(); !errors.Is(err, ErrInvalidBounds) {
		t.Fatalf("expected ErrInvalidBounds, got %v", err)
	}
}

func TestStatusString(t *testing.T) {
	for s, exp := range map[Status]string{Active: "active", Captured: "captured", Escaped: "escaped", Status(9): "status(9)"} {
		if s.String() != exp {
			t.Fatalf("%d: %s", s, s)
		}
	}
}

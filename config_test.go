package lensing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r2"
)

func writeScenario(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "scenario.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeScenario(t, `
[simulation]
name = "sgra"
step = 0.05
width = 1024
height = 768
workers = 2
keep_terminated = true
max_frames = 5000

[units]
meters_per_unit = 1e9

[horizon]
min_render_radius = 1
max_render_radius = 100

[body]
preset = "Sgr A*"
x = 512
y = 384

[[rays]]
x = 50
y = 280
dx = 1

[[rays]]
x = 700
y = 50
tx = 512
ty = 384

[[beams]]
x = 1
y = 384
dx = 1
count = 31
spacing = 4.5

[export]
output_dir = "out"
csv = true
`)
	conf, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Name != "sgra" || conf.Step != 0.05 || conf.Workers != 2 || !conf.KeepTerminated || conf.MaxFrames != 5000 {
		t.Fatalf("simulation: %+v", conf)
	}
	if conf.MetersPerUnit != 1e9 || conf.Horizon != (HorizonBounds{1, 100}) || conf.Bounds != NewBounds(1024, 768) {
		t.Fatalf("scales: %+v", conf)
	}
	if conf.Body.Name != SagittariusA.Name || conf.Body.X != 512 || conf.Body.Y != 384 || conf.Body.Mass != SagittariusA.Mass() {
		t.Fatalf("body: %+v", conf.Body)
	}
	if len(conf.Rays) != 2 || conf.Rays[0].Direction() != (r2.Vec{X: 1}) || conf.Rays[1].Direction() != (r2.Vec{X: -188, Y: 334}) {
		t.Fatalf("rays: %+v", conf.Rays)
	}
	if len(conf.Beams) != 1 || conf.Beams[0].Count != 31 || conf.Beams[0].Spacing != 4.5 {
		t.Fatalf("beams: %+v", conf.Beams)
	}
	// The export file name defaults to the scenario name.
	if conf.Export.OutputDir != "out" || conf.Export.Filename != "sgra" || !conf.Export.AsCSV || conf.Export.Catalog {
		t.Fatalf("export: %+v", conf.Export)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	conf, err := LoadConfig(writeScenario(t, "# nothing\n"))
	if err != nil {
		t.Fatal(err)
	}
	def := DefaultConfig()
	if conf.Name != def.Name || conf.Step != def.Step || conf.MetersPerUnit != def.MetersPerUnit || conf.Bounds != def.Bounds || conf.Horizon != def.Horizon {
		t.Fatalf("got %+v, expected %+v", conf, def)
	}
	if conf.Body != def.Body {
		t.Fatalf("body %+v, expected %+v", conf.Body, def.Body)
	}
	if !conf.Export.IsUseless() || conf.Export.Filename != "" {
		t.Fatalf("export: %+v", conf.Export)
	}
}

func TestLoadConfigBodyMass(t *testing.T) {
	conf, err := LoadConfig(writeScenario(t, "[body]\nsolar_masses = 10\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !scalar.EqualWithinRel(conf.Body.Mass, 10*SolarMass, 1e-15) || conf.Body.X != DefaultWidth/2 {
		t.Fatalf("body: %+v", conf.Body)
	}
	conf, err = LoadConfig(writeScenario(t, "[body]\nname = \"heavy\"\nmass_kg = 4e31\n"))
	if err != nil {
		t.Fatal(err)
	}
	if conf.Body.Mass != 4e31 || conf.Body.Name != "heavy" {
		t.Fatalf("body: %+v", conf.Body)
	}
	// A body without any mass is no body at all.
	conf, err = LoadConfig(writeScenario(t, "[body]\nx = 10\ny = 20\n"))
	if err != nil {
		t.Fatal(err)
	}
	if conf.Body.Mass != 0 || conf.Body.X != 10 || conf.Body.Y != 20 {
		t.Fatalf("body: %+v", conf.Body)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("missing file accepted")
	}
	for contents, exp := range map[string]error{
		"[simulation]\nstep = -1\n":                  ErrInvalidStep,
		"[units]\nmeters_per_unit = 0\n":             ErrInvalidScale,
		"[simulation]\nwidth = 0\n":                  ErrInvalidBounds,
		"[horizon]\nmin_render_radius = 0\n":         ErrInvalidHorizonBounds,
		"[body]\nmass_kg = -1\n":                     ErrInvalidMass,
		"[body]\npreset = \"Gargantua\"\n":           ErrUnknownPreset,
		"[body]\nmass_kg = 0\n":                      ErrInvalidMass,
		"[body]\nsolar_masses = 0\n":                 ErrInvalidMass,
		"[body]\nsolar_masses = -2\n":                ErrInvalidMass,
		"[body]\npreset = \"M87\"\nmass_kg = 1e31\n": ErrConflictingMass,
		"[body]\nsolar_masses = 5\nmass_kg = 1e31\n": ErrConflictingMass,
	} {
		if _, err := LoadConfig(writeScenario(t, contents)); !errors.Is(err, exp) {
			t.Fatalf("%q: expected %v, got %v", contents, exp, err)
		}
	}
	if _, err := LoadConfig(writeScenario(t, "[[beams]]\nx = 1\ny = 1\ndx = 1\ncount = 0\n")); err == nil {
		t.Fatal("empty beam accepted")
	}
}

package lensing

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gonum.org/v1/gonum/spatial/r2"
)

// Defaults: an 800x600 window of 5e7 m per unit around a 1e6 M☉ body.
const (
	DefaultMetersPerUnit = 5e7
	DefaultStep          = 0.1
	DefaultWidth         = 800.0
	DefaultHeight        = 600.0
	DefaultSolarMasses   = 1e6
)

// BodyConfig is the gravitating body of a scenario.
type BodyConfig struct {
	Name string
	X, Y float64
	Mass float64 // kg, zero means no body
}

// RayConfig is a single ray of a scenario. If the direction is zero, the ray heads toward the target.
type RayConfig struct {
	X  float64 `mapstructure:"x"`
	Y  float64 `mapstructure:"y"`
	DX float64 `mapstructure:"dx"`
	DY float64 `mapstructure:"dy"`
	TX float64 `mapstructure:"tx"`
	TY float64 `mapstructure:"ty"`
}

// Origin returns the starting point.
func (rc RayConfig) Origin() r2.Vec {
	return r2.Vec{X: rc.X, Y: rc.Y}
}

// Direction returns the direction of the ray, derived from the target if unset.
func (rc RayConfig) Direction() r2.Vec {
	if rc.DX == 0 && rc.DY == 0 {
		return r2.Vec{X: rc.TX - rc.X, Y: rc.TY - rc.Y}
	}
	return r2.Vec{X: rc.DX, Y: rc.DY}
}

// BeamConfig is a set of parallel rays of a scenario.
type BeamConfig struct {
	X       float64 `mapstructure:"x"`
	Y       float64 `mapstructure:"y"`
	DX      float64 `mapstructure:"dx"`
	DY      float64 `mapstructure:"dy"`
	Count   int     `mapstructure:"count"`
	Spacing float64 `mapstructure:"spacing"`
}

// Config configures a Simulation.
type Config struct {
	Name           string
	MetersPerUnit  float64
	Horizon        HorizonBounds
	Bounds         Bounds
	Step           float64
	Workers        int // zero means one per CPU
	KeepTerminated bool
	MaxFrames      uint64
	Body           BodyConfig
	Rays           []RayConfig
	Beams          []BeamConfig
	Export         ExportConfig
}

// DefaultConfig returns the default configuration: a 1e6 M☉ body at the center of an 800x600 domain.
func DefaultConfig() Config {
	return Config{
		Name:          "lensing",
		MetersPerUnit: DefaultMetersPerUnit,
		Horizon:       DefaultHorizonBounds(),
		Bounds:        NewBounds(DefaultWidth, DefaultHeight),
		Step:          DefaultStep,
		Body:          BodyConfig{Name: "black hole", X: DefaultWidth / 2, Y: DefaultHeight / 2, Mass: DefaultSolarMasses * SolarMass},
	}
}

// Validate returns an error if the configuration cannot be simulated.
func (c Config) Validate() error {
	if _, err := NewUnitSystem(c.MetersPerUnit); err != nil {
		return err
	}
	if err := c.Horizon.Validate(); err != nil {
		return err
	}
	if err := c.Bounds.Validate(); err != nil {
		return err
	}
	if !(c.Step > 0) || math.IsInf(c.Step, 0) {
		return fmt.Errorf("%w: %g", ErrInvalidStep, c.Step)
	}
	if c.Body.Mass < 0 || math.IsNaN(c.Body.Mass) || math.IsInf(c.Body.Mass, 0) {
		return fmt.Errorf("%w: body %q has %g kg", ErrInvalidMass, c.Body.Name, c.Body.Mass)
	}
	for i, b := range c.Beams {
		if b.Count <= 0 {
			return fmt.Errorf("beams.%d: count must be positive, got %d", i, b.Count)
		}
	}
	return nil
}

// LoadConfig reads the scenario TOML (or any format viper supports) at path.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	ext := filepath.Ext(path)
	v.SetConfigName(strings.TrimSuffix(filepath.Base(path), ext))
	v.AddConfigPath(filepath.Dir(path))
	if ext != "" {
		v.SetConfigType(strings.TrimPrefix(ext, "."))
	}
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return ConfigFromViper(v)
}

// ConfigFromViper reads the configuration from v, using the defaults for missing keys.
func ConfigFromViper(v *viper.Viper) (Config, error) {
	def := DefaultConfig()
	v.SetDefault("simulation.name", def.Name)
	v.SetDefault("simulation.step", def.Step)
	v.SetDefault("simulation.width", DefaultWidth)
	v.SetDefault("simulation.height", DefaultHeight)
	v.SetDefault("simulation.workers", 0)
	v.SetDefault("simulation.keep_terminated", false)
	v.SetDefault("simulation.max_frames", 0)
	v.SetDefault("units.meters_per_unit", def.MetersPerUnit)
	v.SetDefault("horizon.min_render_radius", def.Horizon.Min)
	v.SetDefault("horizon.max_render_radius", def.Horizon.Max)
	v.SetDefault("export.output_dir", ".")

	conf := Config{
		Name:           v.GetString("simulation.name"),
		MetersPerUnit:  v.GetFloat64("units.meters_per_unit"),
		Horizon:        HorizonBounds{v.GetFloat64("horizon.min_render_radius"), v.GetFloat64("horizon.max_render_radius")},
		Bounds:         NewBounds(v.GetFloat64("simulation.width"), v.GetFloat64("simulation.height")),
		Step:           v.GetFloat64("simulation.step"),
		Workers:        v.GetInt("simulation.workers"),
		KeepTerminated: v.GetBool("simulation.keep_terminated"),
		MaxFrames:      v.GetUint64("simulation.max_frames"),
		Export: ExportConfig{
			OutputDir: v.GetString("export.output_dir"),
			Filename:  v.GetString("export.filename"),
			AsCSV:     v.GetBool("export.csv"),
			Catalog:   v.GetBool("export.catalog"),
			Timestamp: v.GetBool("export.timestamp"),
		},
	}

	// Read the body: exactly one of a preset, a mass in solar masses or a mass in kg.
	// No defaults under body: viper reports defaults as set.
	conf.Body = BodyConfig{Name: v.GetString("body.name"), X: def.Body.X, Y: def.Body.Y}
	if v.IsSet("body.x") {
		conf.Body.X = v.GetFloat64("body.x")
	}
	if v.IsSet("body.y") {
		conf.Body.Y = v.GetFloat64("body.y")
	}
	explicit := 0
	for _, key := range []string{"body.preset", "body.solar_masses", "body.mass_kg"} {
		if v.IsSet(key) {
			explicit++
		}
	}
	if explicit > 1 {
		return Config{}, fmt.Errorf("%w: body sets more than one of preset, solar_masses and mass_kg", ErrConflictingMass)
	}
	switch {
	case v.IsSet("body.preset"):
		preset, err := PresetFromString(v.GetString("body.preset"))
		if err != nil {
			return Config{}, err
		}
		conf.Body.Mass = preset.Mass()
		if conf.Body.Name == "" {
			conf.Body.Name = preset.Name
		}
	case v.IsSet("body.solar_masses"):
		conf.Body.Mass = v.GetFloat64("body.solar_masses") * SolarMass
		if !(conf.Body.Mass > 0) {
			return Config{}, fmt.Errorf("%w: body.solar_masses = %g", ErrInvalidMass, v.GetFloat64("body.solar_masses"))
		}
	case v.IsSet("body.mass_kg"):
		conf.Body.Mass = v.GetFloat64("body.mass_kg")
		if !(conf.Body.Mass > 0) {
			return Config{}, fmt.Errorf("%w: body.mass_kg = %g", ErrInvalidMass, conf.Body.Mass)
		}
	case !v.IsSet("body"):
		conf.Body.Mass = def.Body.Mass
	}
	if conf.Body.Name == "" {
		conf.Body.Name = def.Body.Name
	}

	if err := v.UnmarshalKey("rays", &conf.Rays); err != nil {
		return Config{}, fmt.Errorf("rays: %w", err)
	}
	if err := v.UnmarshalKey("beams", &conf.Beams); err != nil {
		return Config{}, fmt.Errorf("beams: %w", err)
	}
	if conf.Export.Filename == "" && !conf.Export.IsUseless() {
		conf.Export.Filename = conf.Name
	}
	if err := conf.Validate(); err != nil {
		return Config{}, errors.Join(fmt.Errorf("invalid configuration %q", conf.Name), err)
	}
	return conf, nil
}

package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/ChristopherRabotin/lensing"
	kitlog "github.com/go-kit/kit/log"
	"gonum.org/v1/gonum/spatial/r2"
)

// This code reads a scenario file, spawns its rays and runs the simulation until every ray terminated.

const defaultScenario = "~~unset~~"

var (
	scenario    string
	metricsAddr string
	maxFrames   uint64
	verbose     bool
	trace       bool
)

func init() {
	// Read flags
	flag.StringVar(&scenario, "scenario", defaultScenario, "scenario TOML file")
	flag.StringVar(&metricsAddr, "metrics", "", "serve prometheus metrics on this address (e.g. :9090)")
	flag.Uint64Var(&maxFrames, "frames", 0, "maximum number of frames (overrides simulation.max_frames)")
	flag.BoolVar(&verbose, "verbose", false, "log every terminated ray")
	flag.BoolVar(&trace, "trace", false, "follow each configured ray on its own until it terminates, without frames nor export")
}

func main() {
	flag.Parse()
	conf := lensing.DefaultConfig()
	if scenario != defaultScenario {
		var err error
		if conf, err = lensing.LoadConfig(scenario); err != nil {
			log.Fatalf("%s: %s", scenario, err)
		}
	} else {
		// Horizontal beam from the left edge, across the body.
		conf.Beams = []lensing.BeamConfig{{X: 1, Y: lensing.DefaultHeight / 2, DX: 1, Count: 25, Spacing: 10}}
	}
	if maxFrames > 0 {
		conf.MaxFrames = maxFrames
	}

	klog := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stdout))
	if trace {
		traceRays(conf, klog)
		return
	}
	var simLog kitlog.Logger = kitlog.NewNopLogger()
	if verbose {
		simLog = klog
	}
	sim, err := lensing.NewSimulation(conf, simLog)
	if err != nil {
		log.Fatalf("could not configure %q: %s", conf.Name, err)
	}
	if metricsAddr != "" {
		m := lensing.NewMetrics(nil)
		sim.Instrument(m)
		go func() {
			if err := m.ServeMetrics(metricsAddr); err != nil {
				klog.Log("level", "critical", "subsys", "metrics", "err", err)
			}
		}()
	}

	ids, err := sim.SpawnConfigured()
	if err != nil {
		log.Fatalf("could not spawn rays: %s", err)
	}
	klog.Log("level", "info", "subsys", "lensing", "scenario", conf.Name, "body", sim.Body(), "rays", len(ids))

	var captured, escaped int
	start := time.Now()
	frames, err := sim.Run(conf.MaxFrames, func(frame lensing.Frame) {
		c, e := frame.Terminated()
		captured += c
		escaped += e
	})
	if err != nil {
		log.Fatalf("frame %d: %s", frames+1, err)
	}
	if err := sim.Close(); err != nil {
		klog.Log("level", "critical", "subsys", "export", "err", err)
	}
	klog.Log("level", "notice", "subsys", "lensing", "status", "finished", "frames", frames, "captured", captured, "escaped", escaped, "duration", time.Since(start))
}

// traceRays follows every configured ray independently around the configured body.
func traceRays(conf lensing.Config, logger kitlog.Logger) {
	units, err := lensing.NewUnitSystem(conf.MetersPerUnit)
	if err != nil {
		log.Fatal(err)
	}
	body, err := lensing.NewBody(conf.Body.Name, r2.Vec{X: conf.Body.X, Y: conf.Body.Y}, conf.Body.Mass, units, conf.Horizon)
	if err != nil {
		log.Fatal(err)
	}
	for i, rc := range conf.Rays {
		ray, err := lensing.NewRay(rc.Origin(), rc.Direction(), body)
		if err != nil {
			log.Fatalf("rays.%d: %s", i, err)
		}
		ray.ID = lensing.RayID(i + 1)
		if _, err := lensing.NewTrace(ray, body, conf.Bounds, conf.MaxFrames, logger).Run(conf.Step); err != nil {
			logger.Log("level", "critical", "subsys", "lensing", "ray", ray.ID, "err", err)
		}
	}
}

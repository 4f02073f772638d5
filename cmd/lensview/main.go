package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ChristopherRabotin/lensing"
	"github.com/gdamore/tcell/v2"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/speaker"
	"gonum.org/v1/gonum/spatial/r2"
)

// Terminal viewer: rays are drawn with fading trails, the horizon is filled.
// Keys: b beam, c clear, space pause, +/- body mass, q/Esc quit. Mouse: click an origin then a target.

const (
	frameInterval = 16 * time.Millisecond // ~60 FPS
	beamCount     = 21
	beamSpacing   = 12
)

var (
	scenario string
	mute     bool
)

func init() {
	flag.StringVar(&scenario, "scenario", "", "scenario TOML file")
	flag.BoolVar(&mute, "mute", false, "disable the capture sound")
}

type viewer struct {
	screen        tcell.Screen
	sim           *lensing.Simulation
	width, height int
	paused        bool
	pickedOrigin  *r2.Vec
	lastFrame     lensing.Frame
	captured      int
	escaped       int
	audioInit     bool
	status        string
}

func newViewer(sim *lensing.Simulation) (*viewer, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}
	screen.EnableMouse()
	v := &viewer{screen: screen, sim: sim}
	v.width, v.height = screen.Size()
	if !mute {
		if err := v.initAudio(); err != nil {
			// Non-fatal, the viewer runs without sound
			v.status = fmt.Sprintf("audio disabled: %s", err)
		}
	}
	return v, nil
}

func (v *viewer) initAudio() error {
	sampleRate := beep.SampleRate(44100)
	err := speaker.Init(sampleRate, sampleRate.N(time.Second/10))
	if err == nil {
		v.audioInit = true
	}
	return err
}

func (v *viewer) playCaptureSound() {
	if !v.audioInit {
		return
	}
	sampleRate := beep.SampleRate(44100)
	sine, err := generators.SineTone(sampleRate, 220)
	if err != nil {
		return
	}
	speaker.Play(beep.Take(sampleRate.N(40*time.Millisecond), sine))
}

// toCell maps a render position to a terminal cell.
func (v *viewer) toCell(p r2.Vec) (int, int) {
	b := v.sim.Bounds()
	w, h := b.Size()
	return int((p.X - b.Min.X) / w * float64(v.width)), int((p.Y - b.Min.Y) / h * float64(v.height))
}

// toRender maps the center of a terminal cell to a render position.
func (v *viewer) toRender(x, y int) r2.Vec {
	b := v.sim.Bounds()
	w, h := b.Size()
	return r2.Vec{X: b.Min.X + (float64(x)+0.5)/float64(v.width)*w, Y: b.Min.Y + (float64(y)+0.5)/float64(v.height)*h}
}

func (v *viewer) set(x, y int, r rune, style tcell.Style) {
	if x >= 0 && x < v.width && y >= 0 && y < v.height {
		v.screen.SetContent(x, y, r, nil, style)
	}
}

func (v *viewer) draw() {
	v.screen.Clear()

	// Horizon
	if body := v.sim.Body(); body != nil {
		style := tcell.StyleDefault.Foreground(tcell.ColorRed)
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				if r2.Norm(r2.Sub(v.toRender(x, y), body.Position)) <= body.HorizonRender {
					v.set(x, y, '█', style)
				}
			}
		}
	}

	// Trails then heads
	for _, ray := range v.lastFrame.Rays {
		n := len(ray.Trail)
		for i, p := range ray.Trail {
			intensity := int32(60 + 195*float64(i+1)/float64(n))
			x, y := v.toCell(p)
			v.set(x, y, '·', tcell.StyleDefault.Foreground(tcell.NewRGBColor(intensity, intensity, intensity)))
		}
		x, y := v.toCell(ray.Position)
		switch ray.Status {
		case lensing.Active:
			v.set(x, y, '*', tcell.StyleDefault.Foreground(tcell.ColorYellow))
		case lensing.Captured:
			v.set(x, y, 'x', tcell.StyleDefault.Foreground(tcell.ColorRed))
		}
	}
	if v.pickedOrigin != nil {
		x, y := v.toCell(*v.pickedOrigin)
		v.set(x, y, '+', tcell.StyleDefault.Foreground(tcell.ColorGreen).Reverse(true))
	}

	// Status line
	line := fmt.Sprintf(" frame %d  active %d  captured %d  escaped %d  %s ", v.sim.Frame(), v.sim.Active(), v.captured, v.escaped, v.status)
	for i, r := range []rune(line) {
		v.set(i, v.height-1, r, tcell.StyleDefault.Reverse(true))
	}
	v.screen.Show()
}

func (v *viewer) spawnBeam() {
	b := v.sim.Bounds()
	if _, err := v.sim.SpawnBeam(r2.Vec{X: b.Min.X + 1, Y: b.Center().Y}, r2.Vec{X: 1}, beamCount, beamSpacing); err != nil {
		v.status = err.Error()
	}
}

func (v *viewer) scaleMass(factor float64) {
	body := v.sim.Body()
	if body == nil {
		return
	}
	if _, err := v.sim.CreateBody(body.Name, body.Position, body.Mass*factor); err != nil {
		v.status = err.Error()
		return
	}
	v.status = v.sim.Body().String()
}

func (v *viewer) handleInput(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC {
			return false
		}
		if ev.Key() != tcell.KeyRune {
			return true
		}
		switch ev.Rune() {
		case 'q':
			return false
		case 'b':
			v.spawnBeam()
		case 'c':
			v.sim.Clear()
			v.lastFrame = lensing.Frame{}
		case ' ':
			v.paused = !v.paused
		case '+':
			v.scaleMass(2)
		case '-':
			v.scaleMass(0.5)
		}

	case *tcell.EventMouse:
		if ev.Buttons()&tcell.Button1 == 0 {
			return true
		}
		p := v.toRender(ev.Position())
		if v.pickedOrigin == nil {
			v.pickedOrigin = &p
			return true
		}
		if _, err := v.sim.SpawnRayToward(*v.pickedOrigin, p); err != nil {
			v.status = err.Error()
		}
		v.pickedOrigin = nil

	case *tcell.EventResize:
		v.width, v.height = v.screen.Size()
		v.screen.Sync()
	}
	return true
}

func (v *viewer) run() {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	eventChan := make(chan tcell.Event, 100)
	go func() {
		for {
			eventChan <- v.screen.PollEvent()
		}
	}()

	for {
		select {
		case ev := <-eventChan:
			if !v.handleInput(ev) {
				return
			}

		case <-ticker.C:
			if !v.paused && v.sim.Active() > 0 {
				frame, err := v.sim.Step()
				if err != nil {
					v.status = err.Error()
				} else {
					v.lastFrame = frame
					c, e := frame.Terminated()
					v.captured += c
					v.escaped += e
					if c > 0 {
						v.playCaptureSound()
					}
				}
			}
			v.draw()
		}
	}
}

func (v *viewer) cleanup() {
	if v.audioInit {
		speaker.Close()
	}
	v.screen.Fini()
}

func main() {
	flag.Parse()
	conf := lensing.DefaultConfig()
	if scenario != "" {
		var err error
		if conf, err = lensing.LoadConfig(scenario); err != nil {
			log.Fatalf("%s: %s", scenario, err)
		}
	}
	// The viewer owns the frame loop, nothing is exported.
	conf.Export = lensing.ExportConfig{}
	sim, err := lensing.NewSimulation(conf, nil)
	if err != nil {
		log.Fatalf("could not configure %q: %s", conf.Name, err)
	}
	if _, err := sim.SpawnConfigured(); err != nil {
		log.Fatalf("could not spawn rays: %s", err)
	}

	v, err := newViewer(sim)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer v.cleanup()
	if len(conf.Rays)+len(conf.Beams) == 0 {
		v.spawnBeam()
	}
	v.run()
}

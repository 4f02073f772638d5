package lensing

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// ExportConfig configures the exporting of the simulation.
type ExportConfig struct {
	OutputDir string
	Filename  string
	AsCSV     bool // per frame ray states
	Catalog   bool // JSON summary of every ray, written when the export stops
	Timestamp bool // append the creation time to the file names
}

// IsUseless returns whether this config doesn't actually do anything.
func (c ExportConfig) IsUseless() bool {
	return !c.AsCSV && !c.Catalog
}

func (c ExportConfig) path(prefix, ext string, created time.Time) string {
	name := fmt.Sprintf("%s-%s", prefix, c.Filename)
	if c.Timestamp {
		name += created.Format("-2006-01-02T15.04.05")
	}
	return filepath.Join(c.OutputDir, name+"."+ext)
}

// Catalog is the JSON summary of an exported simulation.
type Catalog struct {
	Version string       `json:"version"`
	Name    string       `json:"name"`
	Created string       `json:"created"`
	Frames  uint64       `json:"frames"`
	Rays    []*RayRecord `json:"rays"`
}

// RayRecord summarizes one ray in the catalog.
type RayRecord struct {
	ID         RayID      `json:"id"`
	Status     string     `json:"status"`
	Steps      uint64     `json:"steps"`
	FirstFrame uint64     `json:"firstFrame"`
	LastFrame  uint64     `json:"lastFrame"`
	First      [2]float64 `json:"first"`
	Last       [2]float64 `json:"last"`
	LastState  [4]float64 `json:"lastState"`
}

// csvHeader is the header row of the per frame export.
var csvHeader = []string{"frame", "ray", "status", "x", "y", "r", "phi", "dr", "dphi"}

// StreamFrames streams the frames of the channel to the files of conf until the channel is closed.
// The channel is always drained, even after a write error.
func StreamFrames(conf ExportConfig, name string, frames <-chan Frame) (err error) {
	created := time.Now().UTC()
	defer func() {
		if err != nil {
			for range frames {
			}
		}
	}()

	var w *csv.Writer
	if conf.AsCSV {
		f, err := os.Create(conf.path("rays", "csv", created))
		if err != nil {
			return err
		}
		defer f.Close()
		// Header
		if _, err := fmt.Fprintf(f, "# Creation date (UTC): %s\n# Positions in render units, phi in radians, derivatives per unit of affine parameter.\n", created); err != nil {
			return err
		}
		w = csv.NewWriter(f)
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}

	records := make(map[RayID]*RayRecord)
	var last uint64
	row := make([]string, len(csvHeader))
	for frame := range frames {
		last = frame.Number
		for _, r := range frame.Rays {
			if conf.Catalog {
				rec, ok := records[r.ID]
				if !ok {
					rec = &RayRecord{ID: r.ID, FirstFrame: frame.Number, First: [2]float64{r.Position.X, r.Position.Y}}
					records[r.ID] = rec
				}
				rec.Status = r.Status.String()
				rec.Steps = r.Steps
				rec.LastFrame = frame.Number
				rec.Last = [2]float64{r.Position.X, r.Position.Y}
				rec.LastState = r.State
			}
			if w != nil {
				row[0] = strconv.FormatUint(frame.Number, 10)
				row[1] = strconv.FormatUint(uint64(r.ID), 10)
				row[2] = r.Status.String()
				row[3] = strconv.FormatFloat(r.Position.X, 'f', 6, 64)
				row[4] = strconv.FormatFloat(r.Position.Y, 'f', 6, 64)
				for i, v := range r.State {
					row[5+i] = strconv.FormatFloat(v, 'g', 12, 64)
				}
				if err := w.Write(row); err != nil {
					return err
				}
			}
		}
	}

	if w != nil {
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
	}
	if conf.Catalog {
		c := Catalog{Version: "1.0", Name: name, Created: created.Format(time.RFC3339), Frames: last, Rays: make([]*RayRecord, 0, len(records))}
		for _, rec := range records {
			c.Rays = append(c.Rays, rec)
		}
		sort.Slice(c.Rays, func(i, j int) bool { return c.Rays[i].ID < c.Rays[j].ID })
		marsh, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(conf.path("catalog", "json", created), marsh, 0o644); err != nil {
			return errors.Join(errors.New("could not write the catalog"), err)
		}
	}
	return nil
}

// Package plot renders CSI snapshots and estimate series as PNG images.
package plot

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/csi.report/internal/csi/estimate"
	"github.com/banshee-data/csi.report/internal/csi/grouper"
)

// ErrNoData is returned when there is nothing to draw.
var ErrNoData = errors.New("no data to plot")

const (
	width  = 12 * vg.Inch
	height = 5 * vg.Inch
)

// slotSeries is one populated (core, spatial stream) slot.
type slotSeries struct {
	label string
	csi   []complex128
}

func slots(w *grouper.WifiCsi) []slotSeries {
	var out []slotSeries
	for core := 0; core < grouper.NumCores; core++ {
		for ss := 0; ss < grouper.NumSpatialStreams; ss++ {
			if csi := w.Get(core, ss); csi != nil {
				out = append(out, slotSeries{fmt.Sprintf("core %d / ss %d", core, ss), csi})
			}
		}
	}
	return out
}

func newPlot(title, x, y string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = x
	p.Y.Label.Text = y
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	p.Add(plotter.NewGrid())
	return p
}

func addLine(p *plot.Plot, label string, pts plotter.XYs, c color.Color) error {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

func save(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := p.Save(width, height, path); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	return nil
}

// perSubcarrier plots f(csi) for every populated slot against the signed
// subcarrier index.
func perSubcarrier(w *grouper.WifiCsi, path, title, ylabel string, f func([]complex128) []float64) error {
	if w == nil {
		return ErrNoData
	}
	series := slots(w)
	if len(series) == 0 {
		return ErrNoData
	}
	bw := w.ChanSpec.Bandwidth()
	p := newPlot(fmt.Sprintf("%s - %s seq %d", title, w.ChanSpec, w.SeqCnt), "Subcarrier", ylabel)
	colors := generateColors(len(series))
	for i, s := range series {
		ys := f(s.csi)
		pts := make(plotter.XYs, len(ys))
		for k, y := range ys {
			pts[k] = plotter.XY{X: float64(bw.SubcarrierIndex(k)), Y: y}
		}
		if err := addLine(p, s.label, pts, colors[i]); err != nil {
			return err
		}
	}
	return save(p, path)
}

// Amplitude writes |H| per subcarrier for every populated slot of w.
func Amplitude(w *grouper.WifiCsi, path string) error {
	return perSubcarrier(w, path, "CSI Amplitude", "|H|", func(csi []complex128) []float64 {
		out := make([]float64, len(csi))
		for i, c := range csi {
			out[i] = cmplx.Abs(c)
		}
		return out
	})
}

// Phase writes the unwrapped phase per subcarrier for every populated
// slot of w.
func Phase(w *grouper.WifiCsi, path string) error {
	return perSubcarrier(w, path, "CSI Phase (unwrapped)", "Phase (rad)", func(csi []complex128) []float64 {
		out := make([]float64, len(csi))
		for i, c := range csi {
			out[i] = cmplx.Phase(c)
		}
		return Unwrap(out)
	})
}

// DelayProfile writes the channel impulse response magnitude of spatial
// stream 0 on each core against delay in nanoseconds.
func DelayProfile(w *grouper.WifiCsi, path string) error {
	if w == nil {
		return ErrNoData
	}
	bwHz := w.ChanSpec.Bandwidth().Hz()
	if bwHz == 0 {
		return ErrNoData
	}
	p := newPlot(fmt.Sprintf("Delay Profile - %s seq %d", w.ChanSpec, w.SeqCnt), "Delay (ns)", "|h|")
	colors := generateColors(grouper.NumCores)
	n := 0
	for core := 0; core < grouper.NumCores; core++ {
		profile := estimate.DelayProfile(w.Get(core, 0))
		if len(profile) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(profile))
		for tap, v := range profile {
			pts[tap] = plotter.XY{X: float64(tap) / bwHz * 1e9, Y: v}
		}
		if err := addLine(p, fmt.Sprintf("core %d", core), pts, colors[core]); err != nil {
			return err
		}
		n++
	}
	if n == 0 {
		return ErrNoData
	}
	return save(p, path)
}

// Snapshot writes the amplitude, phase and delay profile plots of w into
// dir and returns the paths written.
func Snapshot(w *grouper.WifiCsi, dir string) ([]string, error) {
	if w == nil {
		return nil, ErrNoData
	}
	var written []string
	for _, out := range []struct {
		name string
		fn   func(*grouper.WifiCsi, string) error
	}{
		{"amplitude", Amplitude},
		{"phase", Phase},
		{"delay", DelayProfile},
	} {
		path := filepath.Join(dir, fmt.Sprintf("seq_%05d_%s.png", w.SeqCnt, out.name))
		if err := out.fn(w, path); err != nil {
			if errors.Is(err, ErrNoData) {
				continue
			}
			return written, err
		}
		written = append(written, path)
	}
	if len(written) == 0 {
		return nil, ErrNoData
	}
	return written, nil
}

// Series writes aoa.png (mean angle per pair, degrees) and tof.png (delay
// per core, ns) into dir with the snapshot index on the x axis. It returns
// the number of plots written.
func Series(summaries []*estimate.Summary, dir string) (int, error) {
	aoa := make(map[string]plotter.XYs)
	tof := make(map[string]plotter.XYs)
	for i, s := range summaries {
		if s == nil {
			continue
		}
		for _, a := range s.AoA {
			aoa[a.Pair] = append(aoa[a.Pair], plotter.XY{X: float64(i), Y: a.Radians * 180 / math.Pi})
		}
		for _, d := range s.ToF {
			key := fmt.Sprintf("core %d", d.Core)
			tof[key] = append(tof[key], plotter.XY{X: float64(i), Y: float64(d.Delay.Nanoseconds())})
		}
	}

	count := 0
	for _, out := range []struct {
		file, title, ylabel string
		data                map[string]plotter.XYs
	}{
		{"aoa.png", "Angle of Arrival", "Angle (deg)", aoa},
		{"tof.png", "Time of Flight", "Delay (ns)", tof},
	} {
		if len(out.data) == 0 {
			continue
		}
		p := newPlot(out.title, "Snapshot", out.ylabel)
		keys := make([]string, 0, len(out.data))
		for k := range out.data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		colors := generateColors(len(keys))
		for i, k := range keys {
			if err := addLine(p, k, out.data[k], colors[i]); err != nil {
				return count, err
			}
		}
		if err := save(p, filepath.Join(dir, out.file)); err != nil {
			return count, err
		}
		count++
	}
	if count == 0 {
		return 0, ErrNoData
	}
	return count, nil
}

// Unwrap removes 2π jumps between consecutive phases in place and returns
// the slice.
func Unwrap(phase []float64) []float64 {
	offset := 0.0
	for i := 1; i < len(phase); i++ {
		prev := phase[i-1]
		cur := phase[i] + offset
		d := cur - prev
		for d > math.Pi {
			offset -= 2 * math.Pi
			cur -= 2 * math.Pi
			d -= 2 * math.Pi
		}
		for d < -math.Pi {
			offset += 2 * math.Pi
			cur += 2 * math.Pi
			d += 2 * math.Pi
		}
		phase[i] = cur
	}
	return phase
}

// generateColors spreads n hues evenly around the HSL wheel.
func generateColors(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

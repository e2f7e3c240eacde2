// Package estimate derives physical quantities from a grouped CSI snapshot:
// angle of arrival from inter-antenna phase differences and time of flight
// from the peak of the channel impulse response.
package estimate

import (
	"math"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/csi.report/internal/csi/chanspec"
	"github.com/banshee-data/csi.report/internal/csi/grouper"
)

// SpeedOfLight in m/s.
const SpeedOfLight = 299_792_458.0

// Antenna roles on the RT-AC86U's linear array, by receive core.
const (
	RightCore  = 0
	LeftCore   = 1
	CenterCore = 3
)

// Frequencies returns the frequency in Hz of each subcarrier of cs, linearly
// spaced over [fc - bw/2, fc + bw/2] with Nsub points.
func Frequencies(cs chanspec.ChanSpec) []float64 {
	n := cs.Bandwidth().Nsub()
	if n == 0 {
		return nil
	}
	fc := cs.CenterFrequencyMHz() * 1e6
	half := cs.Bandwidth().Hz() / 2
	return floats.Span(make([]float64, n), fc-half, fc+half)
}

// Wavelengths returns the wavelength in metres of each subcarrier of cs.
func Wavelengths(cs chanspec.ChanSpec) []float64 {
	f := Frequencies(cs)
	out := make([]float64, len(f))
	for i, v := range f {
		out[i] = SpeedOfLight / v
	}
	return out
}

// AoA estimates the angle of arrival, in radians, on every subcarrier. It
// uses spatial stream 0 of the right, center and left antennas and returns
// two sequences: center relative to right (spacing d) and left relative to
// right (spacing 2d). Entries may be NaN where |phase·λ/(2πd)| > 1 or a
// reference coefficient is zero; callers filter as needed.
//
// AoA returns nil when any of the three reports is missing or their lengths
// do not match the snapshot's bandwidth.
func AoA(w *grouper.WifiCsi, antennaDistance float64) *[2][]float64 {
	if w == nil {
		return nil
	}
	right := w.Get(RightCore, 0)
	center := w.Get(CenterCore, 0)
	left := w.Get(LeftCore, 0)
	if right == nil || center == nil || left == nil {
		return nil
	}

	lambda := Wavelengths(w.ChanSpec)
	n := len(lambda)
	if n == 0 || len(right) != n || len(center) != n || len(left) != n {
		return nil
	}

	return &[2][]float64{
		phaseToAngle(phaseDiff(center, right), lambda, antennaDistance),
		phaseToAngle(phaseDiff(left, right), lambda, 2*antennaDistance),
	}
}

func phaseDiff(a, ref []complex128) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = cmplx.Phase(a[i] / ref[i])
	}
	return out
}

func phaseToAngle(phase, lambda []float64, d float64) []float64 {
	out := make([]float64, len(phase))
	for i := range phase {
		out[i] = math.Asin(phase[i] * lambda[i] / (2 * math.Pi * d))
	}
	return out
}

// CoreDelay is a time-of-flight estimate for one receive core.
type CoreDelay struct {
	Core  int           `json:"core"`
	Delay time.Duration `json:"delay_ns"`
	// Tap is the index of the strongest impulse response tap.
	Tap int `json:"tap"`
}

// ToF returns one delay per populated core (spatial stream 0), in core
// order. Cores without a report are skipped. A snapshot with no core
// reports yields nil.
func ToF(w *grouper.WifiCsi) []time.Duration {
	per := ToFPerCore(w)
	if len(per) == 0 {
		return nil
	}
	out := make([]time.Duration, len(per))
	for i, d := range per {
		out[i] = d.Delay
	}
	return out
}

// ToFPerCore is ToF with the originating core and tap index attached.
func ToFPerCore(w *grouper.WifiCsi) []CoreDelay {
	if w == nil {
		return nil
	}
	bwHz := w.ChanSpec.Bandwidth().Hz()
	if bwHz == 0 {
		return nil
	}

	var out []CoreDelay
	for core := 0; core < grouper.NumCores; core++ {
		csi := w.Get(core, 0)
		if len(csi) < 2 {
			continue
		}
		profile := DelayProfile(csi)
		tap := floats.MaxIdx(profile)
		out = append(out, CoreDelay{
			Core:  core,
			Tap:   tap,
			Delay: time.Duration(math.Round(float64(tap) / bwHz * float64(time.Second))),
		})
	}
	return out
}

// DelayProfile returns the magnitude of the first half of the inverse FFT
// of csi, the physically meaningful (non-negative delay) taps of the
// channel impulse response. The result is not normalised.
func DelayProfile(csi []complex128) []float64 {
	n := len(csi)
	if n < 2 {
		return nil
	}
	seq := fourier.NewCmplxFFT(n).Sequence(nil, csi)
	out := make([]float64, n/2)
	for i := range out {
		out[i] = cmplx.Abs(seq[i])
	}
	return out
}

// MeanFinite returns the mean of the finite entries of x, and how many
// entries contributed. The mean is NaN when none did.
func MeanFinite(x []float64) (float64, int) {
	finite := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return math.NaN(), 0
	}
	return stat.Mean(finite, nil), len(finite)
}

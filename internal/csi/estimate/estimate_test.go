package estimate

import (
	"math"
	"math/cmplx"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/csi.report/internal/csi/chanspec"
	"github.com/banshee-data/csi.report/internal/csi/grouper"
	"github.com/banshee-data/csi.report/internal/csi/ieee80211"
)

func mustEncode(t *testing.T, ch uint8, bw ieee80211.Bandwidth) chanspec.ChanSpec {
	t.Helper()
	cs, ok := chanspec.Encode(ch, ieee80211.Band5G, bw)
	require.True(t, ok)
	return cs
}

func TestFrequencies(t *testing.T) {
	cs := mustEncode(t, 36, ieee80211.Bw20)
	f := Frequencies(cs)

	require.Len(t, f, 64)
	assert.InDelta(t, 5170e6, f[0], 1e-3)
	assert.InDelta(t, 5190e6, f[63], 1e-3)
	assert.InDelta(t, 20e6/63, f[1]-f[0], 1e-3)

	lambda := Wavelengths(cs)
	assert.InDelta(t, SpeedOfLight/5170e6, lambda[0], 1e-12)
}

func TestFrequencies24GHz(t *testing.T) {
	cs, ok := chanspec.Encode(6, ieee80211.Band2G, ieee80211.Bw20)
	require.True(t, ok)
	f := Frequencies(cs)

	// Channel 6 is centred on 2437 MHz, not on 5000+5*6.
	require.Len(t, f, 64)
	assert.InDelta(t, 2427e6, f[0], 1e-3)
	assert.InDelta(t, 2447e6, f[63], 1e-3)
	assert.InDelta(t, SpeedOfLight/2427e6, Wavelengths(cs)[0], 1e-12)
}

// planeWave builds the snapshot a far-field source at angle theta would
// produce on a uniform linear array with spacing d.
func planeWave(t *testing.T, cs chanspec.ChanSpec, theta, d float64) *grouper.WifiCsi {
	t.Helper()
	lambda := Wavelengths(cs)
	n := len(lambda)
	right := make([]complex128, n)
	center := make([]complex128, n)
	left := make([]complex128, n)
	for i := range lambda {
		k := 2 * math.Pi * math.Sin(theta) / lambda[i]
		right[i] = 2
		center[i] = 2 * cmplx.Exp(complex(0, k*d))
		left[i] = 2 * cmplx.Exp(complex(0, k*2*d))
	}

	w := &grouper.WifiCsi{ChanSpec: cs}
	w.Frames[RightCore][0] = right
	w.Frames[CenterCore][0] = center
	w.Frames[LeftCore][0] = left
	return w
}

func TestAoAPlaneWave(t *testing.T) {
	cs := mustEncode(t, 100, ieee80211.Bw80)
	d := SpeedOfLight / 5.5e9 / 2
	theta := 0.3

	got := AoA(planeWave(t, cs, theta, d), d)
	require.NotNil(t, got)
	require.Len(t, got[0], 256)
	require.Len(t, got[1], 256)

	for i := range got[0] {
		assert.InDelta(t, theta, got[0][i], 1e-9, "center/right subcarrier %d", i)
		assert.InDelta(t, theta, got[1][i], 1e-9, "left/right subcarrier %d", i)
	}

	mean, n := MeanFinite(got[0])
	assert.Equal(t, 256, n)
	assert.InDelta(t, theta, mean, 1e-9)
}

func TestAoAMissingSlots(t *testing.T) {
	cs := mustEncode(t, 36, ieee80211.Bw20)
	d := 0.03

	for _, core := range []int{RightCore, CenterCore, LeftCore} {
		w := planeWave(t, cs, 0.1, d)
		w.Frames[core][0] = nil
		assert.Nil(t, AoA(w, d), "core %d missing", core)
	}

	// only spatial stream 0 counts
	w := planeWave(t, cs, 0.1, d)
	w.Frames[RightCore][1] = w.Frames[RightCore][0]
	w.Frames[RightCore][0] = nil
	assert.Nil(t, AoA(w, d))

	assert.Nil(t, AoA(nil, d))
}

func TestAoALengthMismatch(t *testing.T) {
	cs := mustEncode(t, 36, ieee80211.Bw20)
	w := planeWave(t, cs, 0.1, 0.03)
	w.Frames[LeftCore][0] = w.Frames[LeftCore][0][:10]
	assert.Nil(t, AoA(w, 0.03))
}

func TestAoAOutOfRangeIsNaN(t *testing.T) {
	cs := mustEncode(t, 36, ieee80211.Bw20)
	// antennas far closer than λ/2π cannot explain a phase of π/2
	w := &grouper.WifiCsi{ChanSpec: cs}
	n := cs.Bandwidth().Nsub()
	for _, core := range []int{RightCore, CenterCore, LeftCore} {
		w.Frames[core][0] = make([]complex128, n)
		for i := range w.Frames[core][0] {
			w.Frames[core][0][i] = 1
		}
	}
	for i := range w.Frames[CenterCore][0] {
		w.Frames[CenterCore][0][i] = 1i
	}

	got := AoA(w, 0.001)
	require.NotNil(t, got)
	_, finite := MeanFinite(got[0])
	assert.Equal(t, 0, finite)
	assert.InDelta(t, 0, got[1][0], 1e-12)
}

// impulse returns frequency-domain coefficients of a single path at tap.
func impulse(n, tap int) []complex128 {
	out := make([]complex128, n)
	for k := range out {
		out[k] = cmplx.Exp(complex(0, -2*math.Pi*float64(k*tap)/float64(n)))
	}
	return out
}

func TestToF(t *testing.T) {
	cs := mustEncode(t, 36, ieee80211.Bw20)
	w := &grouper.WifiCsi{ChanSpec: cs}
	w.Frames[0][0] = impulse(64, 3)
	w.Frames[2][0] = impulse(64, 10)
	w.Frames[1][1] = impulse(64, 20) // not spatial stream 0

	got := ToFPerCore(w)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Core)
	assert.Equal(t, 3, got[0].Tap)
	assert.Equal(t, 150*time.Nanosecond, got[0].Delay)
	assert.Equal(t, 2, got[1].Core)
	assert.Equal(t, 500*time.Nanosecond, got[1].Delay)

	assert.Equal(t, []time.Duration{150 * time.Nanosecond, 500 * time.Nanosecond}, ToF(w))
}

func TestToFIgnoresSecondHalf(t *testing.T) {
	cs := mustEncode(t, 100, ieee80211.Bw80)
	w := &grouper.WifiCsi{ChanSpec: cs}
	// a peak in the second half is a negative delay and is not reported
	c := impulse(256, 200)
	direct := impulse(256, 1)
	for i := range c {
		c[i] = 4*c[i] + direct[i]
	}
	w.Frames[3][0] = c

	got := ToFPerCore(w)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Tap)
	assert.InDelta(t, 12.5, float64(got[0].Delay), 1, "1/80MHz is 12.5ns")
}

func TestToFEmpty(t *testing.T) {
	assert.Nil(t, ToF(&grouper.WifiCsi{ChanSpec: mustEncode(t, 36, ieee80211.Bw20)}))
	assert.Nil(t, ToF(nil))
}

func TestDelayProfile(t *testing.T) {
	p := DelayProfile(impulse(128, 5))
	require.Len(t, p, 64)
	assert.InDelta(t, 128, p[5], 1e-6)
	assert.InDelta(t, 0, p[6], 1e-6)
	assert.Nil(t, DelayProfile([]complex128{1}))
}

func TestMeanFinite(t *testing.T) {
	m, n := MeanFinite([]float64{1, math.NaN(), 3, math.Inf(1)})
	assert.Equal(t, 2, n)
	assert.Equal(t, 2.0, m)

	m, n = MeanFinite(nil)
	assert.Equal(t, 0, n)
	assert.True(t, math.IsNaN(m))
}

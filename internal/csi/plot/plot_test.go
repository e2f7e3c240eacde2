package plot

import (
	"bytes"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/csi.report/internal/csi/chanspec"
	"github.com/banshee-data/csi.report/internal/csi/estimate"
	"github.com/banshee-data/csi.report/internal/csi/grouper"
	"github.com/banshee-data/csi.report/internal/testutil"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func testSnapshot(t *testing.T) *grouper.WifiCsi {
	t.Helper()
	cs, err := chanspec.Decode(testutil.ChanSpec5G20)
	require.NoError(t, err)
	w := &grouper.WifiCsi{ChanSpec: cs, RSSI: -50, SeqCnt: 7}
	for _, core := range []int{0, 1, 3} {
		csi := make([]complex128, 64)
		for k := range csi {
			csi[k] = cmplx.Rect(1+float64(core), 0.3*float64(k))
		}
		w.Frames[core][0] = csi
	}
	return w
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic), "%s is not a PNG", path)
}

func TestSnapshotPlots(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	paths, err := Snapshot(testSnapshot(t), dir)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dir, "seq_00007_amplitude.png"), paths[0])
	for _, p := range paths {
		assertPNG(t, p)
	}
}

func TestEmptySnapshot(t *testing.T) {
	dir := t.TempDir()
	_, err := Snapshot(nil, dir)
	assert.ErrorIs(t, err, ErrNoData)

	cs, err := chanspec.Decode(testutil.ChanSpec5G20)
	require.NoError(t, err)
	_, err = Snapshot(&grouper.WifiCsi{ChanSpec: cs}, dir)
	assert.ErrorIs(t, err, ErrNoData)
	assert.ErrorIs(t, Amplitude(&grouper.WifiCsi{ChanSpec: cs}, filepath.Join(dir, "a.png")), ErrNoData)
}

func TestSeries(t *testing.T) {
	var summaries []*estimate.Summary
	for i := 0; i < 5; i++ {
		summaries = append(summaries, &estimate.Summary{
			SeqCnt: uint16(i),
			AoA:    []estimate.PairAngle{{Pair: estimate.PairCenterRight, Radians: 0.1 * float64(i)}},
			ToF:    []estimate.CoreDelay{{Core: 0, Delay: time.Duration(50*i) * time.Nanosecond}},
		})
	}
	summaries = append(summaries, nil)

	dir := t.TempDir()
	n, err := Series(summaries, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assertPNG(t, filepath.Join(dir, "aoa.png"))
	assertPNG(t, filepath.Join(dir, "tof.png"))

	_, err = Series(nil, dir)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestUnwrap(t *testing.T) {
	want := make([]float64, 40)
	wrapped := make([]float64, len(want))
	for i := range want {
		want[i] = 0.4 * float64(i)
		wrapped[i] = cmplx.Phase(cmplx.Rect(1, want[i]))
	}
	got := Unwrap(wrapped)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9, "index %d", i)
	}

	down := []float64{0, -3, 3, 0}
	Unwrap(down)
	assert.InDelta(t, 3-2*math.Pi, down[2], 1e-9)
	assert.InDelta(t, -2*math.Pi, down[3], 1e-9)
}

func TestGenerateColors(t *testing.T) {
	colors := generateColors(4)
	require.Len(t, colors, 4)
	assert.NotEqual(t, colors[0], colors[1])
	assert.Empty(t, generateColors(0))
}

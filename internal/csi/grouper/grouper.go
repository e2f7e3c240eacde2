// Package grouper assembles the per-core, per-spatial-stream CSI reports of
// one triggering Wi-Fi frame into a single WifiCsi snapshot.
//
// A transmission produces up to 16 reports (4 cores x 4 spatial streams)
// that share a sequence counter. Reports arrive in arbitrary order within a
// generation and some may be lost, so a generation is closed only when a
// report with a different sequence counter arrives or the caller flushes
// with Take at end of stream. There is no time-based flush.
package grouper

import (
	"github.com/banshee-data/csi.report/internal/csi/chanspec"
	"github.com/banshee-data/csi.report/internal/csi/frame"
)

const (
	// NumCores is the number of receive cores on the BCM4366c0.
	NumCores = 4
	// NumSpatialStreams is the number of spatial streams per core.
	NumSpatialStreams = 4
)

// WifiCsi holds every CSI report of one Wi-Fi frame. A nil slot means no
// report was received for that core and spatial stream.
type WifiCsi struct {
	Frames [NumCores][NumSpatialStreams][]complex128
	// ChanSpec and RSSI are those of the last report added.
	ChanSpec chanspec.ChanSpec
	RSSI     int8
	SeqCnt   uint16
}

// Get returns the coefficients for (core, spatial), or nil if the slot is
// empty or out of range.
func (w *WifiCsi) Get(core, spatial int) []complex128 {
	if core < 0 || core >= NumCores || spatial < 0 || spatial >= NumSpatialStreams {
		return nil
	}
	return w.Frames[core][spatial]
}

// Populated returns the number of filled slots.
func (w *WifiCsi) Populated() int {
	n := 0
	for c := range w.Frames {
		for s := range w.Frames[c] {
			if w.Frames[c][s] != nil {
				n++
			}
		}
	}
	return n
}

// Mask returns a 16-bit occupancy mask, bit core*4+spatial set for every
// populated slot.
func (w *WifiCsi) Mask() uint16 {
	var m uint16
	for c := range w.Frames {
		for s := range w.Frames[c] {
			if w.Frames[c][s] != nil {
				m |= 1 << (c*NumSpatialStreams + s)
			}
		}
	}
	return m
}

// FrameGrouper groups a stream of frames by sequence counter.
//
// A FrameGrouper is owned by a single consumer: Add and Take must not be
// called concurrently.
//
//	g := grouper.New()
//	for _, f := range frames {
//		if w := g.Add(f); w != nil {
//			handle(w)
//		}
//	}
//	if w := g.Take(); w != nil {
//		handle(w)
//	}
type FrameGrouper struct {
	current  *WifiCsi
	seqCnt   uint16
	inFlight bool
}

// New returns an empty FrameGrouper.
func New() *FrameGrouper {
	return &FrameGrouper{}
}

// Add places f in the current generation. When f starts a new generation
// the previous one is returned (nil if it had no populated slot). A repeated
// (core, spatial) within one generation overwrites the earlier report.
//
// Frames whose core or spatial index does not fit the 4x4 grid are dropped
// without touching the grouper state.
func (g *FrameGrouper) Add(f *frame.Frame) *WifiCsi {
	if f == nil {
		return nil
	}
	if int(f.Core) >= NumCores || int(f.Spatial) >= NumSpatialStreams {
		debugf("dropping seq=%d core=%d spatial=%d: outside %dx%d grid", f.SeqCnt, f.Core, f.Spatial, NumCores, NumSpatialStreams)
		return nil
	}

	var flushed *WifiCsi
	if !g.inFlight || f.SeqCnt != g.seqCnt {
		flushed = g.Take()
		g.current = &WifiCsi{SeqCnt: f.SeqCnt}
		g.seqCnt = f.SeqCnt
		g.inFlight = true
	}

	if g.current.Frames[f.Core][f.Spatial] != nil {
		debugf("seq=%d core=%d spatial=%d overwritten", f.SeqCnt, f.Core, f.Spatial)
	}
	g.current.Frames[f.Core][f.Spatial] = f.CSI
	g.current.ChanSpec = f.ChanSpec
	g.current.RSSI = f.RSSI

	return flushed
}

// Take closes the current generation and returns it, or nil when nothing
// is pending or no slot was populated. Call it once the frame stream ends
// to receive the final generation.
func (g *FrameGrouper) Take() *WifiCsi {
	cur := g.current
	g.current = nil
	g.inFlight = false

	if cur == nil || cur.Populated() == 0 {
		return nil
	}
	debugf("seq=%d closed with %d/%d slots (mask %04x)", cur.SeqCnt, cur.Populated(), NumCores*NumSpatialStreams, cur.Mask())
	return cur
}

// Pending reports whether a generation is in progress.
func (g *FrameGrouper) Pending() bool {
	return g.inFlight
}

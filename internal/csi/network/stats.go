package network

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/csi.report/internal/csi/chanspec"
	"github.com/banshee-data/csi.report/internal/csi/frame"
	"github.com/banshee-data/csi.report/internal/monitoring"
)

var logf = monitoring.Prefixed("capture")

// PacketStatsInterface receives capture pipeline events.
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddDropped()
	AddFrame()
	AddDecodeError(err error)
	AddSnapshot(populated int, rssi int8)
	LogStats()
}

// noopStats is used when no stats collector is configured.
type noopStats struct{}

func (noopStats) AddPacket(int)         {}
func (noopStats) AddDropped()           {}
func (noopStats) AddFrame()             {}
func (noopStats) AddDecodeError(error)  {}
func (noopStats) AddSnapshot(int, int8) {}
func (noopStats) LogStats()             {}

// Totals are the cumulative counters since a PacketStats was created.
type Totals struct {
	Packets      int64     `json:"packets"`
	Bytes        int64     `json:"bytes"`
	Dropped      int64     `json:"dropped"`
	Frames       int64     `json:"frames"`
	DecodeErrors int64     `json:"decode_errors"`
	Snapshots    int64     `json:"snapshots"`
	LastSnapshot time.Time `json:"last_snapshot"`
	Started      time.Time `json:"started"`
}

// PacketStats counts packets, decoded frames and snapshots. Interval
// counters are reset by LogStats; Totals are never reset. Every event is
// mirrored to the Prometheus metrics when configured.
type PacketStats struct {
	mu sync.Mutex

	source  string
	metrics *monitoring.Metrics

	packets      int64
	bytes        int64
	dropped      int64
	frames       int64
	decodeErrors int64
	snapshots    int64
	lastReset    time.Time

	totals Totals
}

// NewPacketStats returns stats labelled with source ("router", "file",
// "udp"). metrics may be nil.
func NewPacketStats(source string, metrics *monitoring.Metrics) *PacketStats {
	now := time.Now()
	return &PacketStats{
		source:    source,
		metrics:   metrics,
		lastReset: now,
		totals:    Totals{Started: now},
	}
}

func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	ps.packets++
	ps.bytes += int64(bytes)
	ps.totals.Packets++
	ps.totals.Bytes += int64(bytes)
	ps.mu.Unlock()
	ps.metrics.Packet(ps.source, bytes)
}

func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	ps.dropped++
	ps.totals.Dropped++
	ps.mu.Unlock()
	ps.metrics.ForwardDropped()
}

func (ps *PacketStats) AddFrame() {
	ps.mu.Lock()
	ps.frames++
	ps.totals.Frames++
	ps.mu.Unlock()
	ps.metrics.Frame()
}

func (ps *PacketStats) AddDecodeError(err error) {
	ps.mu.Lock()
	ps.decodeErrors++
	ps.totals.DecodeErrors++
	ps.mu.Unlock()
	ps.metrics.DecodeError(DecodeErrorReason(err))
}

func (ps *PacketStats) AddSnapshot(populated int, rssi int8) {
	ps.mu.Lock()
	ps.snapshots++
	ps.totals.Snapshots++
	ps.totals.LastSnapshot = time.Now()
	ps.mu.Unlock()
	ps.metrics.Snapshot(populated, rssi)
}

// Totals returns the cumulative counters.
func (ps *PacketStats) Totals() Totals {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.totals
}

// GetAndReset returns the interval counters and resets them.
func (ps *PacketStats) GetAndReset() (packets, bytes, dropped, frames, decodeErrors, snapshots int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	packets, bytes, dropped = ps.packets, ps.bytes, ps.dropped
	frames, decodeErrors, snapshots = ps.frames, ps.decodeErrors, ps.snapshots

	ps.packets, ps.bytes, ps.dropped = 0, 0, 0
	ps.frames, ps.decodeErrors, ps.snapshots = 0, 0, 0
	ps.lastReset = now
	return
}

// LogStats logs one line for the interval since the previous call. Quiet
// intervals are not logged.
func (ps *PacketStats) LogStats() {
	packets, bytes, dropped, frames, decodeErrors, snapshots, duration := ps.GetAndReset()
	if packets == 0 && dropped == 0 {
		return
	}
	secs := duration.Seconds()
	msg := fmt.Sprintf("%s: %s/s, %.1f packets/s, %s frames, %s snapshots (%.1f/s)",
		ps.source,
		humanize.Bytes(uint64(float64(bytes)/secs)),
		float64(packets)/secs,
		humanize.Comma(frames),
		humanize.Comma(snapshots),
		float64(snapshots)/secs)
	if decodeErrors > 0 {
		msg += fmt.Sprintf(", %s decode errors", humanize.Comma(decodeErrors))
	}
	if dropped > 0 {
		msg += fmt.Sprintf(", %d dropped on forward", dropped)
	}
	logf("%s", msg)
}

// DecodeErrorReason maps a frame decoding error to a short metric label.
func DecodeErrorReason(err error) string {
	var csErr *frame.InvalidChanSpecError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, frame.ErrNotEnoughBytes):
		return "short"
	case errors.Is(err, frame.ErrNotANexmonPacket):
		return "not_nexmon"
	case errors.Is(err, frame.ErrMissingMagicBytes):
		return "magic"
	case errors.Is(err, frame.ErrUnknownChip):
		return "chip"
	case errors.As(err, &csErr), errors.Is(err, chanspec.ErrInvalidBand), errors.Is(err, chanspec.ErrInvalidBandwidth):
		return "chanspec"
	}
	return "other"
}

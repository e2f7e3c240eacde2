package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/csi.report/internal/csi/frame"
	"github.com/banshee-data/csi.report/internal/csi/grouper"
)

// DefaultCSIPort is the UDP port the Nexmon firmware sends CSI to.
const DefaultCSIPort = 5500

// Sink receives each grouped snapshot. Returning an error stops the
// pipeline.
type Sink func(*grouper.WifiCsi) error

// PipelineConfig configures ReadWifiCsi.
type PipelineConfig struct {
	// UDPPort filters datagrams by destination port. Zero accepts any port.
	UDPPort int
	// Realtime paces delivery by the capture timestamps, for replaying a
	// recorded file as if it were live.
	Realtime bool
	// SpeedMultiplier scales realtime replay (2.0 = twice as fast).
	SpeedMultiplier float64
	Stats           PacketStatsInterface
	Forwarder       *PacketForwarder
	Recorder        *Recorder
}

// ReadWifiCsi decodes every CSI frame in r, groups them by sequence counter
// and hands each completed snapshot to sink. The last, possibly partial,
// snapshot is flushed when the stream ends or ctx is cancelled.
//
// Frames that fail to decode are counted, logged and skipped. A stream cut
// off mid-record (tcpdump killed, truncated file) ends the pipeline
// normally.
func ReadWifiCsi(ctx context.Context, r PacketReader, cfg PipelineConfig, sink Sink) error {
	stats := cfg.Stats
	if stats == nil {
		stats = noopStats{}
	}
	speed := cfg.SpeedMultiplier
	if speed <= 0 {
		speed = 1.0
	}

	g := grouper.New()
	flush := func() error {
		if w := g.Take(); w != nil {
			stats.AddSnapshot(w.Populated(), w.RSSI)
			return sink(w)
		}
		return nil
	}

	var (
		packetCount int
		firstTS     time.Time
		replayStart time.Time
		startTime   = time.Now()
	)

	for {
		if err := ctx.Err(); err != nil {
			logf("pipeline stopping due to context cancellation (processed %d packets)", packetCount)
			if ferr := flush(); ferr != nil {
				return ferr
			}
			return err
		}

		pkt, err := r.NextPacket()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				logf("stream complete: %d packets in %v", packetCount, time.Since(startTime).Round(time.Millisecond))
				return flush()
			}
			if ferr := flush(); ferr != nil {
				return ferr
			}
			return fmt.Errorf("failed to read packet %d: %w", packetCount+1, err)
		}
		packetCount++

		if cfg.Realtime {
			if firstTS.IsZero() {
				firstTS = pkt.Timestamp
				replayStart = time.Now()
			} else {
				due := replayStart.Add(time.Duration(float64(pkt.Timestamp.Sub(firstTS)) / speed))
				if wait := time.Until(due); wait > 0 {
					select {
					case <-ctx.Done():
						continue
					case <-time.After(wait):
					}
				}
			}
		}

		link, payload, ok := linkFrame(pkt.Data, r.LinkType(), cfg.UDPPort)
		if !ok {
			continue
		}
		stats.AddPacket(len(payload))

		if cfg.Forwarder != nil {
			cfg.Forwarder.ForwardAsync(payload)
		}
		if cfg.Recorder != nil {
			if link == nil {
				link = frame.WithLinkHeader(payload)
			}
			if err := cfg.Recorder.WritePacket(pkt.Timestamp, link); err != nil {
				logf("recorder: %v", err)
			}
		}

		var f *frame.Frame
		if link != nil {
			f, err = frame.FromSlice(link)
		} else {
			f, err = frame.FromUDPPayload(payload)
		}
		if err != nil {
			stats.AddDecodeError(err)
			logf("packet %d: %v", packetCount, err)
			continue
		}
		stats.AddFrame()

		if w := g.Add(f); w != nil {
			stats.AddSnapshot(w.Populated(), w.RSSI)
			if err := sink(w); err != nil {
				return fmt.Errorf("sink: %w", err)
			}
		}

		if packetCount%10000 == 0 {
			elapsed := time.Since(startTime)
			logf("progress: %d packets in %v (%.0f pkt/s)", packetCount, elapsed.Round(time.Millisecond), float64(packetCount)/elapsed.Seconds())
		}
	}
}

// Collect runs ReadWifiCsi and returns every snapshot. Intended for files
// and tests; live streams should use a Sink.
func Collect(ctx context.Context, r PacketReader, cfg PipelineConfig) ([]*grouper.WifiCsi, error) {
	var out []*grouper.WifiCsi
	err := ReadWifiCsi(ctx, r, cfg, func(w *grouper.WifiCsi) error {
		out = append(out, w)
		return nil
	})
	return out, err
}

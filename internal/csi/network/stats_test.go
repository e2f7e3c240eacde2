package network

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/csi.report/internal/csi/chanspec"
	"github.com/banshee-data/csi.report/internal/csi/frame"
	"github.com/banshee-data/csi.report/internal/monitoring"
)

func TestDecodeErrorReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{frame.ErrNotEnoughBytes, "short"},
		{fmt.Errorf("%w: csi payload is 4 bytes", frame.ErrNotEnoughBytes), "short"},
		{frame.ErrNotANexmonPacket, "not_nexmon"},
		{frame.ErrMissingMagicBytes, "magic"},
		{frame.ErrUnknownChip, "chip"},
		{&frame.InvalidChanSpecError{Raw: 0x5064, Err: chanspec.ErrInvalidBand}, "chanspec"},
		{errors.New("something else"), "other"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeErrorReason(tt.err))
		})
	}
}

func TestPacketStatsGetAndReset(t *testing.T) {
	ps := NewPacketStats("udp", monitoring.NewMetrics())
	ps.AddPacket(316)
	ps.AddPacket(316)
	ps.AddFrame()
	ps.AddDecodeError(frame.ErrMissingMagicBytes)
	ps.AddSnapshot(1, -51)
	ps.AddDropped()

	packets, bytes, dropped, frames, decodeErrors, snapshots, _ := ps.GetAndReset()
	assert.Equal(t, int64(2), packets)
	assert.Equal(t, int64(632), bytes)
	assert.Equal(t, int64(1), dropped)
	assert.Equal(t, int64(1), frames)
	assert.Equal(t, int64(1), decodeErrors)
	assert.Equal(t, int64(1), snapshots)

	packets, _, _, _, _, _, _ = ps.GetAndReset()
	assert.Equal(t, int64(0), packets)

	tot := ps.Totals()
	assert.Equal(t, int64(2), tot.Packets, "totals survive resets")
	assert.False(t, tot.LastSnapshot.IsZero())
}

func TestPacketStatsLogStats(t *testing.T) {
	orig := monitoring.Logf
	defer func() { monitoring.Logf = orig }()

	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	ps := NewPacketStats("router", nil)
	ps.LogStats()
	assert.Empty(t, lines, "quiet interval is not logged")

	for i := 0; i < 1500; i++ {
		ps.AddPacket(100)
		ps.AddFrame()
	}
	ps.AddDecodeError(frame.ErrNotANexmonPacket)
	ps.LogStats()

	if assert.Len(t, lines, 1) {
		assert.True(t, strings.HasPrefix(lines[0], "[capture] router: "), lines[0])
		assert.Contains(t, lines[0], "1,500 frames")
		assert.Contains(t, lines[0], "1 decode errors")
	}
}

package network

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const recordSnapLen = 65536

// Recorder appends CSI frames to a libpcap file with Ethernet link type, so
// recordings replay through ReadWifiCsi exactly like a router capture.
type Recorder struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	closer  io.Closer
	packets int
}

// NewRecorder writes the pcap file header to w.
func NewRecorder(w io.Writer) (*Recorder, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(recordSnapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	rec := &Recorder{w: pw}
	if c, ok := w.(io.Closer); ok {
		rec.closer = c
	}
	return rec, nil
}

// CreateRecorder creates (or truncates) path and records into it.
func CreateRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording %s: %w", path, err)
	}
	rec, err := NewRecorder(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return rec, nil
}

// WritePacket appends one Ethernet frame. Safe for concurrent use.
func (r *Recorder) WritePacket(ts time.Time, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := r.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to record packet: %w", err)
	}
	r.packets++
	return nil
}

// Packets returns how many packets were recorded.
func (r *Recorder) Packets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packets
}

// Close closes the underlying writer when it is an io.Closer.
func (r *Recorder) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

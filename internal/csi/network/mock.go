package network

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
)

// MockPacketReader implements PacketReader for tests.
type MockPacketReader struct {
	mu sync.Mutex

	// Packets are returned in order by NextPacket.
	Packets []Packet
	// Err is returned once Packets are exhausted; io.EOF when nil.
	Err error
	// MockLinkType defaults to Ethernet.
	MockLinkType layers.LinkType

	ReadIndex int
}

// NewMockPacketReader returns an Ethernet reader over frames, stamped one
// millisecond apart from start.
func NewMockPacketReader(start time.Time, frames ...[]byte) *MockPacketReader {
	m := &MockPacketReader{MockLinkType: layers.LinkTypeEthernet}
	for i, f := range frames {
		m.Packets = append(m.Packets, Packet{Data: f, Timestamp: start.Add(time.Duration(i) * time.Millisecond)})
	}
	return m
}

func (m *MockPacketReader) NextPacket() (*Packet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReadIndex >= len(m.Packets) {
		if m.Err != nil {
			return nil, m.Err
		}
		return nil, io.EOF
	}
	pkt := m.Packets[m.ReadIndex]
	m.ReadIndex++
	return &pkt, nil
}

func (m *MockPacketReader) LinkType() layers.LinkType {
	return m.MockLinkType
}

// MockStreamer implements Streamer by serving a fixed pcap stream.
type MockStreamer struct {
	Data  []byte
	Err   error
	Calls int
}

func (m *MockStreamer) Tcpdump(ctx context.Context) (io.ReadCloser, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return io.NopCloser(bytes.NewReader(m.Data)), nil
}

package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

const forwardQueueSize = 1000

type dropCounter interface {
	AddDropped()
}

// PacketForwarder re-sends raw CSI datagrams to another UDP address, e.g. a
// second analysis host or a CSIKit instance. Forwarding never blocks the
// capture path: when the queue is full the datagram is dropped and counted.
type PacketForwarder struct {
	conn        *net.UDPConn
	queue       chan []byte
	stats       dropCounter
	logInterval time.Duration
	address     string
	wg          sync.WaitGroup
}

// NewPacketForwarder dials address ("host:port"). stats may be nil.
func NewPacketForwarder(address string, stats dropCounter, logInterval time.Duration) (*PacketForwarder, error) {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address %q: %w", address, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	if stats == nil {
		stats = noopStats{}
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &PacketForwarder{
		conn:        conn,
		queue:       make(chan []byte, forwardQueueSize),
		stats:       stats,
		logInterval: logInterval,
		address:     address,
	}, nil
}

// Start runs the send loop until ctx is cancelled. Write failures are
// summarised once per log interval.
func (f *PacketForwarder) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		failed := 0
		var lastErr error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet := <-f.queue:
				if _, err := f.conn.Write(packet); err != nil {
					failed++
					lastErr = err
				}
			case <-ticker.C:
				if failed > 0 {
					logf("forwarder: %d datagrams to %s failed (latest: %v)", failed, f.address, lastErr)
					failed, lastErr = 0, nil
				}
			}
		}
	}()
	logf("forwarding CSI datagrams to %s", f.address)
}

// ForwardAsync queues a copy of packet.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	cp := make([]byte, len(packet))
	copy(cp, packet)
	select {
	case f.queue <- cp:
	default:
		f.stats.AddDropped()
	}
}

// Close waits for the send loop to exit (its context must already be
// cancelled) and closes the socket.
func (f *PacketForwarder) Close() error {
	f.wg.Wait()
	return f.conn.Close()
}

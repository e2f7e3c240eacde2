package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/csi.report/internal/csi/frame"
	"github.com/banshee-data/csi.report/internal/csi/grouper"
)

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	// Address to bind, e.g. ":5500".
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Stats       PacketStatsInterface
	Forwarder   *PacketForwarder
	Recorder    *Recorder
	Sink        Sink
}

// UDPListener receives CSI datagrams directly from the router, without
// tcpdump, and groups them into snapshots. The datagrams carry no link
// header; one is synthesised before decoding.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	stats       PacketStatsInterface
	forwarder   *PacketForwarder
	recorder    *Recorder
	sink        Sink

	mu   sync.Mutex
	conn *net.UDPConn

	// grouper is only touched by the Serve goroutine
	grouper *grouper.FrameGrouper
}

// NewUDPListener creates a listener from config, applying defaults.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	var stats PacketStatsInterface = noopStats{}
	if config.Stats != nil {
		stats = config.Stats
	}
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	address := config.Address
	if address == "" {
		address = fmt.Sprintf(":%d", DefaultCSIPort)
	}
	sink := config.Sink
	if sink == nil {
		sink = func(*grouper.WifiCsi) error { return nil }
	}

	return &UDPListener{
		address:     address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		stats:       stats,
		forwarder:   config.Forwarder,
		recorder:    config.Recorder,
		sink:        sink,
		grouper:     grouper.New(),
	}
}

// Listen binds the UDP socket.
func (l *UDPListener) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			logf("warning: failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	logf("UDP listener bound to %s with receive buffer %d bytes", conn.LocalAddr(), l.rcvBuf)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *UDPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start binds and serves until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve reads datagrams until ctx is cancelled, then flushes the pending
// snapshot and closes the socket. Listen must have succeeded.
func (l *UDPListener) Serve(ctx context.Context) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return errors.New("udp listener: Serve called before Listen")
	}
	defer conn.Close()

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}
	go l.startStatsLogging(ctx)

	buffer := make([]byte, 4096) // 160 MHz frames are 2066 bytes

	for {
		select {
		case <-ctx.Done():
			logf("UDP listener stopping due to context cancellation")
			if err := l.flush(); err != nil {
				return err
			}
			return ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return l.flush()
			}
			logf("UDP read error: %v", err)
			continue
		}

		if err := l.handlePacket(buffer[:n]); err != nil {
			return fmt.Errorf("handling packet from %v: %w", addr, err)
		}
	}
}

func (l *UDPListener) startStatsLogging(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		l.stats.LogStats()
	}

	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// handlePacket decodes one datagram. Decode failures are counted and
// skipped; only a sink error is returned.
func (l *UDPListener) handlePacket(payload []byte) error {
	l.stats.AddPacket(len(payload))

	if l.forwarder != nil {
		l.forwarder.ForwardAsync(payload)
	}

	link := frame.WithLinkHeader(payload)
	if l.recorder != nil {
		if err := l.recorder.WritePacket(time.Now(), link); err != nil {
			logf("recorder: %v", err)
		}
	}

	f, err := frame.FromSlice(link)
	if err != nil {
		l.stats.AddDecodeError(err)
		logf("UDP datagram: %v", err)
		return nil
	}
	l.stats.AddFrame()

	if w := l.grouper.Add(f); w != nil {
		l.stats.AddSnapshot(w.Populated(), w.RSSI)
		return l.sink(w)
	}
	return nil
}

func (l *UDPListener) flush() error {
	if w := l.grouper.Take(); w != nil {
		l.stats.AddSnapshot(w.Populated(), w.RSSI)
		return l.sink(w)
	}
	return nil
}

// Close closes the socket, unblocking Serve.
func (l *UDPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}

package network

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Packet is one captured link-layer frame.
type Packet struct {
	Data      []byte
	Timestamp time.Time
}

// PacketReader yields captured packets in order. NextPacket returns io.EOF
// once the stream is exhausted.
type PacketReader interface {
	NextPacket() (*Packet, error)
	LinkType() layers.LinkType
}

const pcapngMagic = 0x0a0d0d0a

type pcapStreamReader struct {
	read     func() ([]byte, gopacket.CaptureInfo, error)
	linkType layers.LinkType
}

// NewPcapReader reads a libpcap or pcapng stream, such as a capture file or
// the stdout of "tcpdump -w -". The format is sniffed from the first four
// bytes.
func NewPcapReader(r io.Reader) (PacketReader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}

	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcapng stream: %w", err)
		}
		return &pcapStreamReader{read: ng.ReadPacketData, linkType: ng.LinkType()}, nil
	}

	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap stream: %w", err)
	}
	return &pcapStreamReader{read: pr.ReadPacketData, linkType: pr.LinkType()}, nil
}

func (p *pcapStreamReader) NextPacket() (*Packet, error) {
	data, ci, err := p.read()
	if err != nil {
		return nil, err
	}
	return &Packet{Data: data, Timestamp: ci.Timestamp}, nil
}

func (p *pcapStreamReader) LinkType() layers.LinkType { return p.linkType }

// linkFrame picks the UDP datagram out of a captured packet. It reports
// false when the packet is not UDP to port (0 matches any port).
//
// For Ethernet captures the untouched frame is returned as well, since the
// CSI header offsets are relative to it. Other link types (e.g. Linux
// cooked capture) only yield the payload, which callers re-prefix with the
// Nexmon pseudo header.
func linkFrame(data []byte, lt layers.LinkType, port int) ([]byte, []byte, bool) {
	pkt := gopacket.NewPacket(data, lt, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, nil, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok || len(udp.Payload) == 0 {
		return nil, nil, false
	}
	if port > 0 && int(udp.DstPort) != port {
		return nil, nil, false
	}
	if lt == layers.LinkTypeEthernet {
		return data, udp.Payload, true
	}
	return nil, udp.Payload, true
}

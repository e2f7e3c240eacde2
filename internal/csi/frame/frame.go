// Package frame decodes the CSI UDP frames produced by Nexmon-patched
// BCM4366c0 firmware.
//
// The firmware sends one UDP datagram per (core, spatial stream) pair of
// every frame that triggers a CSI capture. Offsets below are relative to
// the start of the Ethernet frame as written by tcpdump; the Nexmon
// extractor places the ASCII tag "NEXMON" where the source MAC would be.
//
//	struct csi_udp_frame {
//	    struct ethernet_ip_udp_header hdrs; // 42 bytes
//	    uint16 kk1;                         // magic 0x1111
//	    int8   rssi;
//	    uint8  fc;                          // frame control
//	    uint8  SrcMac[6];
//	    uint16 seqCnt;
//	    uint16 csiconf;                     // core | spatial << 3
//	    uint16 chanspec;
//	    uint16 chip;
//	    uint32 csi_values[];
//	} __attribute__((packed));
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/banshee-data/csi.report/internal/csi/chanspec"
)

// Frame layout constants.
const (
	HeaderSize    = 60 // link + ip + udp headers plus the CSI header
	LinkHeaderLen = 42 // ethernet(14) + ipv4(20) + udp(8)

	tagOffset    = 6
	magicOffset  = 42
	rssiOffset   = 44
	fcOffset     = 45
	macOffset    = 46
	seqOffset    = 52
	configOffset = 54
	chanOffset   = 56
	chipOffset   = 58

	maxConfig = 0x3f
)

var (
	nexmonTag   = []byte("NEXMON")
	magicPrefix = []byte{0x11, 0x11}
)

// Decoding errors. Each is per-frame: callers should count or log the
// offending buffer and carry on with the stream.
var (
	ErrNotEnoughBytes    = errors.New("not enough bytes")
	ErrNotANexmonPacket  = errors.New("not a Nexmon packet")
	ErrMissingMagicBytes = errors.New("missing magic bytes")
	ErrUnknownChip       = errors.New("unknown chip")
)

// InvalidChanSpecError wraps a chanspec decoding failure. Unwrap yields
// chanspec.ErrInvalidBandwidth or chanspec.ErrInvalidBand.
type InvalidChanSpecError struct {
	Raw uint16
	Err error
}

func (e *InvalidChanSpecError) Error() string {
	return fmt.Sprintf("invalid chanspec 0x%04x: %v", e.Raw, e.Err)
}

func (e *InvalidChanSpecError) Unwrap() error { return e.Err }

// Chip identifies the radio that produced a frame.
type Chip uint16

// ChipBCM4366c0 is the Broadcom BCM4366c0 found in the Asus RT-AC86U.
const ChipBCM4366c0 Chip = 0x006a

// ParseChip validates a raw chip identifier.
func ParseChip(v uint16) (Chip, error) {
	switch Chip(v) {
	case ChipBCM4366c0:
		return ChipBCM4366c0, nil
	default:
		return 0, fmt.Errorf("%w: 0x%04x", ErrUnknownChip, v)
	}
}

func (c Chip) String() string {
	if c == ChipBCM4366c0 {
		return "BCM4366c0"
	}
	return fmt.Sprintf("Chip(0x%04x)", uint16(c))
}

// Frame is one decoded CSI report for one core and spatial stream.
type Frame struct {
	// RSSI in dBm as reported by the chip.
	RSSI int8
	// FrameControl of the triggering frame; BCM4366c0 always reports 0.
	FrameControl uint8
	// SourceMAC of the transmitter.
	SourceMAC net.HardwareAddr
	// SeqCnt is the sequence number of the triggering Wi-Fi frame. All
	// reports of one transmission share it.
	SeqCnt   uint16
	Core     uint8
	Spatial  uint8
	ChanSpec chanspec.ChanSpec
	Chip     Chip
	// CSI holds ChanSpec.Bandwidth().Nsub() coefficients in ascending
	// subcarrier frequency order.
	CSI []complex128
}

// FromSlice parses a full link-layer CSI frame. Validation order is fixed:
// length, NEXMON tag, magic bytes, chanspec, chip, payload length.
func FromSlice(b []byte) (*Frame, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: frame is %d bytes, header needs %d", ErrNotEnoughBytes, len(b), HeaderSize)
	}
	if !bytes.Equal(b[tagOffset:tagOffset+len(nexmonTag)], nexmonTag) {
		return nil, ErrNotANexmonPacket
	}
	if !bytes.Equal(b[magicOffset:magicOffset+2], magicPrefix) {
		return nil, ErrMissingMagicBytes
	}

	core, spatial := parseConfig(b[configOffset : configOffset+2])

	rawChan := binary.LittleEndian.Uint16(b[chanOffset:])
	cs, err := chanspec.Decode(rawChan)
	if err != nil {
		return nil, &InvalidChanSpecError{Raw: rawChan, Err: err}
	}

	chip, err := ParseChip(binary.LittleEndian.Uint16(b[chipOffset:]))
	if err != nil {
		return nil, err
	}

	csi, err := UnpackCSI(cs.Bandwidth(), b[HeaderSize:])
	if err != nil {
		return nil, err
	}

	mac := make(net.HardwareAddr, 6)
	copy(mac, b[macOffset:macOffset+6])

	return &Frame{
		RSSI:         int8(b[rssiOffset]),
		FrameControl: b[fcOffset],
		SourceMAC:    mac,
		SeqCnt:       binary.LittleEndian.Uint16(b[seqOffset:]),
		Core:         core,
		Spatial:      spatial,
		ChanSpec:     cs,
		Chip:         chip,
		CSI:          csi,
	}, nil
}

// parseConfig extracts core and spatial stream from csiconf. Some nexutil
// builds write the field big-endian; a little-endian value above the 6-bit
// range is reread that way.
func parseConfig(b []byte) (core, spatial uint8) {
	cfg := binary.LittleEndian.Uint16(b)
	if cfg > maxConfig {
		cfg = binary.BigEndian.Uint16(b)
	}
	return uint8(cfg & 0x7), uint8((cfg >> 3) & 0x7)
}

// FromUDPPayload parses a CSI report received directly on a UDP socket,
// i.e. without the 42 bytes of link, IP and UDP headers. The link header is
// rebuilt so that FromSlice offsets apply unchanged.
func FromUDPPayload(payload []byte) (*Frame, error) {
	return FromSlice(WithLinkHeader(payload))
}

// WithLinkHeader prefixes a UDP payload with the 42-byte pseudo link header
// the Nexmon extractor emits (broadcast destination, NEXMON source, IPv4,
// UDP 5500 -> 5500).
func WithLinkHeader(payload []byte) []byte {
	b := make([]byte, LinkHeaderLen+len(payload))
	copy(b[0:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	copy(b[tagOffset:], nexmonTag)
	binary.BigEndian.PutUint16(b[12:14], 0x0800)
	b[14] = 0x45
	binary.BigEndian.PutUint16(b[16:18], uint16(20+8+len(payload)))
	b[23] = 0x11
	binary.BigEndian.PutUint16(b[34:36], 5500)
	binary.BigEndian.PutUint16(b[36:38], 5500)
	binary.BigEndian.PutUint16(b[38:40], uint16(8+len(payload)))
	copy(b[LinkHeaderLen:], payload)
	return b
}

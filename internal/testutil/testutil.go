// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers and CSI frame builders so
// that decoder, grouper and pipeline tests share the same wire fixtures.
package testutil

import "encoding/binary"

// Chanspec values used throughout the tests.
const (
	ChanSpec5G20  uint16 = 0xd064 // 100/20
	ChanSpec5G40  uint16 = 0xd826 // 36/40
	ChanSpec5G80  uint16 = 0xe06a // 100/80
	ChanSpec5G160 uint16 = 0xe872 // 100/160
)

// FrameSpec describes a synthetic CSI frame.
type FrameSpec struct {
	RSSI     int8
	MAC      [6]byte
	SeqCnt   uint16
	Core     uint8
	Spatial  uint8
	ChanSpec uint16
	// Chip defaults to 106 (BCM4366c0) when zero.
	Chip uint16
	// Samples are packed 32-bit CSI words in wire order. When nil the
	// payload is filled with Fill for every subcarrier.
	Samples []uint32
	Fill    uint32
	// BigEndianConfig writes csiconf big-endian, as some nexutil builds do.
	BigEndianConfig bool
}

// Nsub returns the subcarrier count implied by a raw chanspec, or 0 if the
// bandwidth code is unknown.
func Nsub(chanSpec uint16) int {
	switch chanSpec & 0x3800 {
	case 0x1000:
		return 64
	case 0x1800:
		return 128
	case 0x2000:
		return 256
	case 0x2800:
		return 512
	}
	return 0
}

// BuildCSIFrame renders a full link-layer CSI frame as tcpdump captures it.
func BuildCSIFrame(s FrameSpec) []byte {
	samples := s.Samples
	if samples == nil {
		samples = make([]uint32, Nsub(s.ChanSpec))
		for i := range samples {
			samples[i] = s.Fill
		}
	}
	chip := s.Chip
	if chip == 0 {
		chip = 106
	}

	b := make([]byte, 60+4*len(samples))
	copy(b[0:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	copy(b[6:12], "NEXMON")
	b[12], b[13] = 0x08, 0x00
	b[14] = 0x45
	binary.BigEndian.PutUint16(b[16:18], uint16(len(b)-14))
	b[22] = 0x01
	b[23] = 0x11
	binary.BigEndian.PutUint16(b[34:36], 5500)
	binary.BigEndian.PutUint16(b[36:38], 5500)
	binary.BigEndian.PutUint16(b[38:40], uint16(len(b)-34))
	b[42], b[43] = 0x11, 0x11
	b[44] = byte(s.RSSI)
	copy(b[46:52], s.MAC[:])
	binary.LittleEndian.PutUint16(b[52:54], s.SeqCnt)
	cfg := uint16(s.Core&0x7) | uint16(s.Spatial&0x7)<<3
	if s.BigEndianConfig {
		binary.BigEndian.PutUint16(b[54:56], cfg)
	} else {
		binary.LittleEndian.PutUint16(b[54:56], cfg)
	}
	binary.LittleEndian.PutUint16(b[56:58], s.ChanSpec)
	binary.LittleEndian.PutUint16(b[58:60], chip)
	for i, w := range samples {
		binary.LittleEndian.PutUint32(b[60+4*i:], w)
	}
	return b
}

// UDPPayload strips the 42-byte link, IP and UDP headers from a frame built
// by BuildCSIFrame.
func UDPPayload(frame []byte) []byte {
	out := make([]byte, len(frame)-42)
	copy(out, frame[42:])
	return out
}

// SampleCapture returns a real 20 MHz CSI frame captured from an RT-AC86U
// (5 GHz channel 100, RSSI -51, seq 0xca30). Its csiconf is written
// big-endian and decodes to core 2, spatial stream 1.
func SampleCapture() []byte {
	b := make([]byte, len(sampleCapture))
	copy(b, sampleCapture)
	return b
}

var sampleCapture = []byte{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x4e, 0x45, 0x58, 0x4d, 0x4f, 0x4e, 0x08, 0x00, 0x45, 0x00,
	0x01, 0x2e, 0x00, 0x01, 0x00, 0x00, 0x01, 0x11, 0xa4, 0xab, 0x0a, 0x0a, 0x0a, 0x0a, 0xff, 0xff,
	0xff, 0xff, 0x15, 0x7c, 0x15, 0x7c, 0x01, 0x1a, 0x00, 0x00, 0x11, 0x11, 0xcd, 0x00, 0xf8, 0xab,
	0x05, 0x66, 0x89, 0x5a, 0x30, 0xca, 0x00, 0x0a, 0x64, 0xd0, 0x6a, 0x00, 0x30, 0x80, 0xfc, 0x33,
	0xf5, 0x8d, 0xdd, 0x27, 0xf6, 0xbe, 0x61, 0x02, 0x77, 0x0b, 0x31, 0x06, 0xf7, 0x31, 0x59, 0x0a,
	0x77, 0x2c, 0x89, 0x0d, 0x37, 0x2c, 0x01, 0x11, 0x37, 0x16, 0xa5, 0x12, 0xb7, 0xfe, 0x64, 0x14,
	0xb7, 0xd7, 0x5c, 0x15, 0x37, 0xb8, 0xa4, 0x16, 0xf7, 0x75, 0x4c, 0x16, 0x77, 0x48, 0x24, 0x16,
	0xf7, 0x08, 0x0c, 0x14, 0xb7, 0x27, 0xc6, 0x12, 0x36, 0xbc, 0x8a, 0x1f, 0x36, 0x2c, 0x2b, 0x19,
	0xf6, 0x79, 0x4b, 0x12, 0xf6, 0xc2, 0xfb, 0x0a, 0xf6, 0xfd, 0xdb, 0x02, 0x77, 0x0e, 0x7b, 0x23,
	0xf7, 0x0b, 0x93, 0x27, 0xb6, 0xf0, 0x83, 0x38, 0x77, 0xdb, 0xce, 0x31, 0x77, 0x88, 0xb6, 0x36,
	0x77, 0x1d, 0x5e, 0x3a, 0xb7, 0x6e, 0x68, 0x3b, 0xf1, 0x5f, 0xfd, 0x21, 0x25, 0x08, 0x0f, 0x02,
	0x00, 0xcc, 0xcd, 0xc7, 0xcf, 0x04, 0x00, 0x00, 0xf0, 0xbf, 0x01, 0x04, 0x70, 0x00, 0xfe, 0x1f,
	0x30, 0x40, 0xf8, 0x3f, 0xf0, 0x3f, 0x03, 0x2c, 0xb1, 0x3f, 0xff, 0x37, 0xf2, 0x0f, 0xfe, 0x36,
	0x30, 0x00, 0xf9, 0x37, 0x77, 0x35, 0xf3, 0x0f, 0x77, 0x67, 0x9f, 0x09, 0xf7, 0x75, 0x8f, 0x04,
	0xf7, 0x66, 0x37, 0x00, 0x77, 0x64, 0x93, 0x22, 0xf7, 0x58, 0x5b, 0x25, 0xf7, 0x44, 0xdb, 0x26,
	0xf7, 0x3c, 0x5b, 0x28, 0x77, 0x2f, 0xb3, 0x29, 0x77, 0x24, 0xd3, 0x29, 0x77, 0x08, 0x7b, 0x2b,
	0xb6, 0xf1, 0xa3, 0x36, 0xb6, 0xb6, 0x63, 0x36, 0xb6, 0x97, 0xe3, 0x36, 0xb6, 0x6a, 0x13, 0x34,
	0xb6, 0x12, 0xff, 0x33, 0xf6, 0xe9, 0x0e, 0x31, 0xb5, 0x53, 0x1f, 0x3e, 0xb5, 0xdb, 0xfe, 0x33,
	0xb4, 0xcb, 0x7e, 0x36, 0xb2, 0x8f, 0x03, 0x2d, 0xf4, 0x47, 0xbc, 0x10, 0xf5, 0x4f, 0x9c, 0x12,
	0xb5, 0x5d, 0x9c, 0x1c, 0xf6, 0x05, 0xac, 0x10, 0x35, 0x88, 0xba, 0x1d,
}

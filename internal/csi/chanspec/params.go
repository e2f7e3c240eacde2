package chanspec

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/csi.report/internal/csi/ieee80211"
)

// Cores is a 4-bit mask of receive cores to collect CSI on.
type Cores uint8

const (
	Core0 Cores = 1 << iota
	Core1
	Core2
	Core3

	AllCores = Core0 | Core1 | Core2 | Core3
)

// Count returns the number of enabled cores.
func (c Cores) Count() int { return bits.OnesCount8(uint8(c & AllCores)) }

// Has reports whether core i is enabled.
func (c Cores) Has(i int) bool { return i >= 0 && i < 4 && c&(1<<i) != 0 }

// SpatialStreams is a 4-bit mask of spatial streams to collect CSI for.
type SpatialStreams uint8

const (
	Stream0 SpatialStreams = 1 << iota
	Stream1
	Stream2
	Stream3

	AllStreams = Stream0 | Stream1 | Stream2 | Stream3
)

// Count returns the number of enabled spatial streams.
func (s SpatialStreams) Count() int { return bits.OnesCount8(uint8(s & AllStreams)) }

// Has reports whether stream i is enabled.
func (s SpatialStreams) Has(i int) bool { return i >= 0 && i < 4 && s&(1<<i) != 0 }

// DefaultDelayMicros is the settling delay the firmware needs between CSI
// operations when 12 or more core/stream pairs are captured.
const DefaultDelayMicros = 50

// DefaultDelay returns the per-operation delay nexutil should be given for
// this core/stream selection: 50µs for 3x4, 4x3 and 4x4, otherwise zero.
func DefaultDelay(c Cores, s SpatialStreams) time.Duration {
	if c.Count()*s.Count() >= 12 {
		return DefaultDelayMicros * time.Microsecond
	}
	return 0
}

// MaxMACFilters is the number of source MAC slots in the parameter blob.
const MaxMACFilters = 4

// ParamsSize is the size of the parameter blob passed to nexutil.
const ParamsSize = 34

var (
	ErrTooManyMACs = fmt.Errorf("at most %d MAC address filters are supported", MaxMACFilters)
	ErrInvalidMAC  = errors.New("MAC address filter must be 6 bytes")
)

// Params are the CSI collection parameters accepted by the patched firmware
// (nexutil -s 500). The wire layout is the little-endian csi_params struct:
//
//	off  0  u16  chanspec
//	off  2  u8   csi_collect
//	off  3  u8   core mask | nss mask << 4
//	off  4  u8   use_pkt_filter
//	off  5  u8   first_pkt_byte
//	off  6  u16  number of MAC filters
//	off  8  4x6  source MAC filters
//	off 32  u16  delay in µs
type Params struct {
	ChanSpec       ChanSpec
	CSICollect     bool
	Cores          Cores
	SpatialStreams SpatialStreams
	// FirstPktByte enables the first-payload-byte filter when non-nil.
	FirstPktByte *uint8
	MACAddrs     []net.HardwareAddr
	// Delay in microseconds after each CSI operation.
	Delay uint16
}

// Validate checks the fields that cannot be represented in the blob.
func (p *Params) Validate() error {
	if len(p.MACAddrs) > MaxMACFilters {
		return ErrTooManyMACs
	}
	for _, mac := range p.MACAddrs {
		if len(mac) != 6 {
			return fmt.Errorf("%w: %q", ErrInvalidMAC, mac.String())
		}
	}
	return nil
}

// Bytes serialises the parameters. MAC filters beyond MaxMACFilters are
// ignored; call Validate first to reject them.
func (p *Params) Bytes() [ParamsSize]byte {
	var out [ParamsSize]byte

	binary.LittleEndian.PutUint16(out[0:2], p.ChanSpec.Uint16())
	if p.CSICollect {
		out[2] = 1
	}
	out[3] = uint8(p.Cores&0x0f) | uint8(p.SpatialStreams)<<4
	if p.FirstPktByte != nil {
		out[4] = 1
		out[5] = *p.FirstPktByte
	}

	macs := p.MACAddrs
	if len(macs) > MaxMACFilters {
		macs = macs[:MaxMACFilters]
	}
	binary.LittleEndian.PutUint16(out[6:8], uint16(len(macs)))
	for i, mac := range macs {
		copy(out[8+i*6:8+(i+1)*6], mac)
	}

	binary.LittleEndian.PutUint16(out[32:34], p.Delay)
	return out
}

// String returns the standard base64 encoding nexutil -v expects.
func (p *Params) String() string {
	b := p.Bytes()
	return base64.StdEncoding.EncodeToString(b[:])
}

// ParseChanSpecArg parses the "channel/bandwidth" notation used by wl and
// makecsiparams, e.g. "36/80". A bare channel means 20 MHz. Channels above
// 14 are placed in the 5 GHz band.
func ParseChanSpecArg(s string) (ChanSpec, error) {
	chStr, bwStr, hasBW := strings.Cut(strings.TrimSpace(s), "/")
	ch, err := strconv.ParseUint(chStr, 10, 8)
	if err != nil || ch == 0 {
		return ChanSpec{}, fmt.Errorf("invalid channel %q", chStr)
	}

	bw := ieee80211.Bw20
	if hasBW {
		mhz, err := strconv.Atoi(bwStr)
		if err != nil {
			return ChanSpec{}, fmt.Errorf("invalid bandwidth %q: %w", bwStr, err)
		}
		if bw, err = ieee80211.BandwidthFromMHz(mhz); err != nil {
			return ChanSpec{}, err
		}
	}

	band := ieee80211.Band2G
	if ch > 14 {
		band = ieee80211.Band5G
	}

	cs, ok := Encode(uint8(ch), band, bw)
	if !ok {
		return ChanSpec{}, fmt.Errorf("no legal %s channel for control channel %d", bw, ch)
	}
	return cs, nil
}

// ParseMask parses a core or spatial-stream mask such as "0x5" or "15".
func ParseMask(s string) (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid mask %q: %w", s, err)
	}
	if v > 0x0f {
		return 0, fmt.Errorf("mask %q has bits above 0xf", s)
	}
	return uint8(v), nil
}

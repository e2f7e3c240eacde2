// Package chanspec encodes and decodes the Broadcom 16-bit channel
// specification ("chanspec") and builds the CSI collection parameters that
// the Nexmon firmware accepts through nexutil.
//
// Chanspec bit layout:
//
//	bits  0-7   center channel
//	bits  8-10  control sideband index (bit 10 only used by 160 MHz)
//	bits 11-13  bandwidth (0x1000=20, 0x1800=40, 0x2000=80, 0x2800=160 MHz)
//	bits 14-15  band (0x0000=2.4 GHz, 0xC000=5 GHz)
package chanspec

import (
	"errors"
	"fmt"

	"github.com/banshee-data/csi.report/internal/csi/ieee80211"
)

const (
	centerMask    = 0x00ff
	sidebandMask  = 0x0700
	sidebandShift = 8

	bwMask = 0x3800
	bw20   = 0x1000
	bw40   = 0x1800
	bw80   = 0x2000
	bw160  = 0x2800

	bandMask = 0xc000
	band2G   = 0x0000
	band5G   = 0xc000
)

var (
	// ErrInvalidBandwidth is returned when the bandwidth field holds an
	// unsupported code, or a 2.4 GHz chanspec claims 80/160 MHz.
	ErrInvalidBandwidth = errors.New("invalid bandwidth")
	// ErrInvalidBand is returned when the band field is neither 2.4 nor 5 GHz.
	ErrInvalidBand = errors.New("invalid band")
)

// Legal center channels per bandwidth, ascending.
var (
	centers40  = [...]uint8{38, 46, 54, 62, 102, 110, 118, 126, 134, 142, 151, 159}
	centers80  = [...]uint8{42, 58, 106, 122, 138, 155}
	centers160 = [...]uint8{50, 114}
)

// ChanSpec is a decoded channel specification. The zero value is not a
// valid chanspec; obtain one through Decode or Encode.
type ChanSpec struct {
	center    uint8
	sideband  uint8
	band      ieee80211.Band
	bandwidth ieee80211.Bandwidth
}

// Decode parses a raw 16-bit chanspec.
func Decode(v uint16) (ChanSpec, error) {
	var bw ieee80211.Bandwidth
	switch v & bwMask {
	case bw20:
		bw = ieee80211.Bw20
	case bw40:
		bw = ieee80211.Bw40
	case bw80:
		bw = ieee80211.Bw80
	case bw160:
		bw = ieee80211.Bw160
	default:
		return ChanSpec{}, fmt.Errorf("%w: code 0x%04x", ErrInvalidBandwidth, v&bwMask)
	}

	var band ieee80211.Band
	switch v & bandMask {
	case band2G:
		band = ieee80211.Band2G
	case band5G:
		band = ieee80211.Band5G
	default:
		return ChanSpec{}, fmt.Errorf("%w: code 0x%04x", ErrInvalidBand, v&bandMask)
	}

	if band == ieee80211.Band2G && (bw == ieee80211.Bw80 || bw == ieee80211.Bw160) {
		return ChanSpec{}, fmt.Errorf("%w: %s not allowed on %s", ErrInvalidBandwidth, bw, band)
	}

	return ChanSpec{
		center:    uint8(v & centerMask),
		sideband:  uint8((v & sidebandMask) >> sidebandShift),
		band:      band,
		bandwidth: bw,
	}, nil
}

// Encode builds the chanspec for control channel ch. For bandwidths wider
// than 20 MHz the first legal center channel (ascending) whose span covers
// ch on a 20 MHz boundary is chosen. ok is false when no center fits.
func Encode(ch uint8, band ieee80211.Band, bw ieee80211.Bandwidth) (ChanSpec, bool) {
	if band == ieee80211.Band2G && (bw == ieee80211.Bw80 || bw == ieee80211.Bw160) {
		return ChanSpec{}, false
	}

	var centers []uint8
	switch bw {
	case ieee80211.Bw20:
		return ChanSpec{center: ch, band: band, bandwidth: bw}, true
	case ieee80211.Bw40:
		centers = centers40[:]
	case ieee80211.Bw80:
		centers = centers80[:]
	case ieee80211.Bw160:
		centers = centers160[:]
	default:
		return ChanSpec{}, false
	}

	mhz := bw.MHz()
	for _, center := range centers {
		lowest := int(center) - (mhz-20)/10
		off := int(ch) - lowest
		if off < 0 || off%4 != 0 {
			continue
		}
		sb := off / 4
		if sb >= mhz/20 {
			continue
		}
		return ChanSpec{center: center, sideband: uint8(sb), band: band, bandwidth: bw}, true
	}

	return ChanSpec{}, false
}

// Uint16 returns the raw wire encoding.
func (c ChanSpec) Uint16() uint16 {
	out := uint16(c.center)
	out |= uint16(c.sideband) << sidebandShift & sidebandMask
	if c.band == ieee80211.Band5G {
		out |= band5G
	}
	switch c.bandwidth {
	case ieee80211.Bw20:
		out |= bw20
	case ieee80211.Bw40:
		out |= bw40
	case ieee80211.Bw80:
		out |= bw80
	case ieee80211.Bw160:
		out |= bw160
	}
	return out
}

// Center returns the center channel number.
func (c ChanSpec) Center() uint8 { return c.center }

// Sideband returns the control sideband index, 0..bandwidth/20-1.
func (c ChanSpec) Sideband() uint8 { return c.sideband }

// Band returns the frequency band.
func (c ChanSpec) Band() ieee80211.Band { return c.band }

// Bandwidth returns the channel bandwidth.
func (c ChanSpec) Bandwidth() ieee80211.Bandwidth { return c.bandwidth }

// ChannelLo20MHz returns the lowest 20 MHz channel covered by this chanspec.
func (c ChanSpec) ChannelLo20MHz() int {
	return int(c.center) - (c.bandwidth.MHz()-20)/10
}

// ControlChannel returns the 20 MHz control channel, i.e. the channel that
// was passed to Encode.
func (c ChanSpec) ControlChannel() int {
	return c.ChannelLo20MHz() + 4*int(c.sideband)
}

// CenterFrequencyMHz returns the center frequency in MHz: 5000 + 5*center
// on 5 GHz, 2407 + 5*center on 2.4 GHz.
func (c ChanSpec) CenterFrequencyMHz() float64 {
	if c.band == ieee80211.Band2G {
		return 2407 + 5*float64(c.center)
	}
	return 5000 + 5*float64(c.center)
}

// String renders the chanspec the way wl accepts it, e.g. "36/80".
func (c ChanSpec) String() string {
	return fmt.Sprintf("%d/%d", c.ControlChannel(), c.bandwidth.MHz())
}

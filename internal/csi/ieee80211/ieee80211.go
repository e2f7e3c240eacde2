// Package ieee80211 holds the IEEE 802.11n/ac definitions needed to interpret
// CSI reports: bands, channel bandwidths and OFDM subcarrier layouts.
//
// References:
//   - 802.11ac: A Survival Guide, chapter 2 (OFDM tone plans)
package ieee80211

import "fmt"

// Band is the radio band a channel lives in.
type Band uint8

const (
	// Band2G is the 2.4 GHz band.
	Band2G Band = iota
	// Band5G is the 5 GHz band.
	Band5G
)

func (b Band) String() string {
	switch b {
	case Band2G:
		return "2.4GHz"
	case Band5G:
		return "5GHz"
	default:
		return fmt.Sprintf("Band(%d)", uint8(b))
	}
}

// Bandwidth is the channel bandwidth.
type Bandwidth uint8

const (
	Bw20 Bandwidth = iota
	Bw40
	Bw80
	Bw160
)

// Bandwidths lists every supported bandwidth in ascending order.
var Bandwidths = [...]Bandwidth{Bw20, Bw40, Bw80, Bw160}

// MHz returns the bandwidth in MHz, or 0 for an unknown value.
func (bw Bandwidth) MHz() int {
	switch bw {
	case Bw20:
		return 20
	case Bw40:
		return 40
	case Bw80:
		return 80
	case Bw160:
		return 160
	default:
		return 0
	}
}

// Hz returns the bandwidth in Hz.
func (bw Bandwidth) Hz() float64 {
	return float64(bw.MHz()) * 1e6
}

// Nsub returns the power-of-two FFT size the chip reports for this
// bandwidth (3.2 subcarriers per MHz): 64, 128, 256 or 512.
func (bw Bandwidth) Nsub() int {
	return bw.MHz() * 16 / 5
}

// Valid reports whether bw is one of the defined bandwidths.
func (bw Bandwidth) Valid() bool {
	return bw <= Bw160
}

func (bw Bandwidth) String() string {
	if !bw.Valid() {
		return fmt.Sprintf("Bandwidth(%d)", uint8(bw))
	}
	return fmt.Sprintf("%dMHz", bw.MHz())
}

// BandwidthFromMHz maps 20/40/80/160 to the matching Bandwidth.
func BandwidthFromMHz(mhz int) (Bandwidth, error) {
	for _, bw := range Bandwidths {
		if bw.MHz() == mhz {
			return bw, nil
		}
	}
	return 0, fmt.Errorf("unsupported bandwidth %d MHz", mhz)
}

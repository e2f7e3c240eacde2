package ieee80211

// SubcarrierType classifies an OFDM subcarrier.
type SubcarrierType uint8

const (
	// Zero is a null (unused) subcarrier: DC, guard bands.
	Zero SubcarrierType = iota
	// Pilot carries the known pilot tones.
	Pilot
	// Data carries payload symbols.
	Data
)

func (t SubcarrierType) String() string {
	switch t {
	case Pilot:
		return "pilot"
	case Data:
		return "data"
	default:
		return "zero"
	}
}

// SubcarrierType20MHz classifies subcarrier i of a 20 MHz 802.11n/ac channel.
func SubcarrierType20MHz(i int) SubcarrierType {
	switch {
	case i == -21 || i == -7 || i == 7 || i == 21:
		return Pilot
	case (i >= -28 && i <= -1) || (i >= 1 && i <= 28):
		return Data
	default:
		return Zero
	}
}

// SubcarrierType40MHz classifies subcarrier i of a 40 MHz 802.11n/ac channel.
func SubcarrierType40MHz(i int) SubcarrierType {
	switch i {
	case -53, -25, -11, 11, 25, 53:
		return Pilot
	}
	if (i >= -58 && i <= -2) || (i >= 2 && i <= 58) {
		return Data
	}
	return Zero
}

// SubcarrierType80MHz classifies subcarrier i of an 80 MHz 802.11ac channel.
func SubcarrierType80MHz(i int) SubcarrierType {
	switch i {
	case -103, -75, -39, -11, 11, 39, 75, 103:
		return Pilot
	}
	if (i >= -122 && i <= -2) || (i >= 2 && i <= 122) {
		return Data
	}
	return Zero
}

// SubcarrierType160MHz classifies subcarrier i of a 160 MHz 802.11ac channel.
func SubcarrierType160MHz(i int) SubcarrierType {
	switch i {
	case -231, -203, -167, -139, -117, -89, -53, -25,
		25, 53, 89, 117, 139, 167, 203, 231:
		return Pilot
	}
	switch {
	case i >= -250 && i <= -130,
		i >= -126 && i <= -6,
		i >= 6 && i <= 126,
		i >= 130 && i <= 250:
		return Data
	}
	return Zero
}

// Classify returns the type of signed subcarrier index i for this bandwidth.
func (bw Bandwidth) Classify(i int) SubcarrierType {
	switch bw {
	case Bw20:
		return SubcarrierType20MHz(i)
	case Bw40:
		return SubcarrierType40MHz(i)
	case Bw80:
		return SubcarrierType80MHz(i)
	case Bw160:
		return SubcarrierType160MHz(i)
	default:
		return Zero
	}
}

// SubcarrierIndex maps position k of a frequency-ascending CSI vector
// (after the half-length rotation) to its signed subcarrier number.
func (bw Bandwidth) SubcarrierIndex(k int) int {
	return k - bw.Nsub()/2
}

// DataSubcarriers returns the vector positions holding data subcarriers,
// in ascending frequency order.
func (bw Bandwidth) DataSubcarriers() []int {
	n := bw.Nsub()
	out := make([]int, 0, n)
	for k := 0; k < n; k++ {
		if bw.Classify(bw.SubcarrierIndex(k)) == Data {
			out = append(out, k)
		}
	}
	return out
}

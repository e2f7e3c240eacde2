package frame

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/csi.report/internal/csi/ieee80211"
)

// Packed sample layout, low to high bit:
//
//	| exp(6) | im(12) | im sign(1) | re(12) | re sign(1) |
//
// Equivalent to unpack_float_acphy(nbits=10, autoscale=0, shft=0, fmt=1,
// nman=12, nexp=6) in the nexmon_csi utilities.
const (
	expMask      = 0x3f
	mantissaMask = 0xfff
	imShift      = 6
	imSignBit    = 1 << 18
	reShift      = 19
	reSignBit    = 1 << 31
)

// UnpackComplex decodes one packed 32-bit CSI sample. The exponent is a
// 6-bit two's-complement value shared by both mantissas.
func UnpackComplex(raw uint32) complex128 {
	exp := int(raw & expMask)
	if exp >= 32 {
		exp -= 64
	}

	im := float64((raw >> imShift) & mantissaMask)
	if raw&imSignBit != 0 {
		im = -im
	}

	re := float64((raw >> reShift) & mantissaMask)
	if raw&reSignBit != 0 {
		re = -re
	}

	return complex(math.Ldexp(re, exp), math.Ldexp(im, exp))
}

// UnpackCSI decodes bw.Nsub() little-endian packed samples from b and
// rotates the result by half its length so that index 0 is the lowest
// frequency subcarrier. Bytes past the last sample are ignored.
func UnpackCSI(bw ieee80211.Bandwidth, b []byte) ([]complex128, error) {
	nsub := bw.Nsub()
	if nsub == 0 {
		return nil, fmt.Errorf("unpack csi: unknown bandwidth %d", bw)
	}
	if len(b) < nsub*4 {
		return nil, fmt.Errorf("%w: csi payload is %d bytes, %s needs %d", ErrNotEnoughBytes, len(b), bw, nsub*4)
	}

	// The chip stores FFT bins DC first; the second half holds the negative
	// frequencies. Writing sample i at (i + nsub/2) % nsub is rotate_right.
	out := make([]complex128, nsub)
	half := nsub / 2
	for i := 0; i < nsub; i++ {
		out[(i+half)%nsub] = UnpackComplex(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

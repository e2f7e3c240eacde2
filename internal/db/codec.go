package db

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/csi.report/internal/csi/grouper"
)

// ErrCorruptCoefficients is returned when a stored coefficient blob does
// not decode.
var ErrCorruptCoefficients = errors.New("corrupt coefficient blob")

// EncodeCoefficients packs every populated slot of w. Each slot is
// written as core u8, spatial stream u8, count u16, then count pairs of
// float32 (real, imaginary), all little endian. Unpacked nexmon values fit
// a float32 exactly.
func EncodeCoefficients(w *grouper.WifiCsi) []byte {
	var out []byte
	for core := range w.Frames {
		for ss, csi := range w.Frames[core] {
			if csi == nil {
				continue
			}
			out = append(out, byte(core), byte(ss))
			out = binary.LittleEndian.AppendUint16(out, uint16(len(csi)))
			for _, c := range csi {
				out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(real(c))))
				out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(imag(c))))
			}
		}
	}
	return out
}

// DecodeCoefficients fills w's slots from a blob written by
// EncodeCoefficients.
func DecodeCoefficients(b []byte, w *grouper.WifiCsi) error {
	for len(b) > 0 {
		if len(b) < 4 {
			return fmt.Errorf("%w: %d trailing bytes", ErrCorruptCoefficients, len(b))
		}
		core, ss := int(b[0]), int(b[1])
		n := int(binary.LittleEndian.Uint16(b[2:4]))
		b = b[4:]
		if core >= grouper.NumCores || ss >= grouper.NumSpatialStreams {
			return fmt.Errorf("%w: slot (%d, %d) out of range", ErrCorruptCoefficients, core, ss)
		}
		if len(b) < n*8 {
			return fmt.Errorf("%w: slot (%d, %d) needs %d bytes, have %d", ErrCorruptCoefficients, core, ss, n*8, len(b))
		}
		csi := make([]complex128, n)
		for i := range csi {
			re := math.Float32frombits(binary.LittleEndian.Uint32(b[i*8:]))
			im := math.Float32frombits(binary.LittleEndian.Uint32(b[i*8+4:]))
			csi[i] = complex(float64(re), float64(im))
		}
		w.Frames[core][ss] = csi
		b = b[n*8:]
	}
	return nil
}

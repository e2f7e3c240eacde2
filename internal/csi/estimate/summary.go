package estimate

import (
	"time"

	"github.com/banshee-data/csi.report/internal/csi/grouper"
)

// Antenna pair labels used for AoA results.
const (
	PairCenterRight = "center_right"
	PairLeftRight   = "left_right"
)

// PairAngle is the mean angle of arrival for one antenna pair over the
// subcarriers that produced a finite angle.
type PairAngle struct {
	Pair        string  `json:"pair"`
	Radians     float64 `json:"radians"`
	Subcarriers int     `json:"subcarriers"`
}

// Summary condenses one snapshot into the scalar estimates that are
// stored, published and charted.
type Summary struct {
	Time     time.Time   `json:"time"`
	SeqCnt   uint16      `json:"seq"`
	ChanSpec string      `json:"chanspec"`
	RSSI     int8        `json:"rssi"`
	Mask     uint16      `json:"mask"`
	AoA      []PairAngle `json:"aoa,omitempty"`
	ToF      []CoreDelay `json:"tof,omitempty"`
}

// Summarize runs every estimator over w. Pairs without a single finite
// angle are left out of AoA.
func Summarize(w *grouper.WifiCsi, antennaDistance float64, at time.Time) *Summary {
	if w == nil {
		return nil
	}
	s := &Summary{
		Time:     at,
		SeqCnt:   w.SeqCnt,
		ChanSpec: w.ChanSpec.String(),
		RSSI:     w.RSSI,
		Mask:     w.Mask(),
		ToF:      ToFPerCore(w),
	}
	if aoa := AoA(w, antennaDistance); aoa != nil {
		for i, pair := range []string{PairCenterRight, PairLeftRight} {
			if mean, n := MeanFinite(aoa[i]); n > 0 {
				s.AoA = append(s.AoA, PairAngle{Pair: pair, Radians: mean, Subcarriers: n})
			}
		}
	}
	return s
}

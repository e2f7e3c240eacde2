package ieee80211

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countData(classify func(int) SubcarrierType, lo, hi int) int {
	n := 0
	for i := lo; i < hi; i++ {
		if classify(i) == Data {
			n++
		}
	}
	return n
}

func TestDataSubcarrierCounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		classify func(int) SubcarrierType
		lo, hi   int
		want     int
	}{
		{"20MHz", SubcarrierType20MHz, -128, 127, 52},
		{"40MHz", SubcarrierType40MHz, -128, 127, 108},
		{"80MHz", SubcarrierType80MHz, -128, 127, 234},
		{"160MHz", SubcarrierType160MHz, -256, 255, 468},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, countData(tt.classify, tt.lo, tt.hi))
		})
	}
}

func TestPilotsAreNotData(t *testing.T) {
	assert.Equal(t, Pilot, SubcarrierType20MHz(-21))
	assert.Equal(t, Pilot, SubcarrierType20MHz(7))
	assert.Equal(t, Zero, SubcarrierType20MHz(0))
	assert.Equal(t, Zero, SubcarrierType40MHz(1))
	assert.Equal(t, Pilot, SubcarrierType80MHz(103))
	assert.Equal(t, Zero, SubcarrierType80MHz(123))
	assert.Equal(t, Zero, SubcarrierType160MHz(128))
	assert.Equal(t, Pilot, SubcarrierType160MHz(-231))
}

func TestBandwidthNsub(t *testing.T) {
	assert.Equal(t, 64, Bw20.Nsub())
	assert.Equal(t, 128, Bw40.Nsub())
	assert.Equal(t, 256, Bw80.Nsub())
	assert.Equal(t, 512, Bw160.Nsub())
	assert.Equal(t, 80e6, Bw80.Hz())
}

func TestBandwidthFromMHz(t *testing.T) {
	bw, err := BandwidthFromMHz(160)
	require.NoError(t, err)
	assert.Equal(t, Bw160, bw)

	_, err = BandwidthFromMHz(10)
	assert.Error(t, err)
}

func TestDataSubcarriers(t *testing.T) {
	idx := Bw20.DataSubcarriers()
	require.Len(t, idx, 52)
	// position 4 is subcarrier -28, the first data tone
	assert.Equal(t, 4, idx[0])
	assert.Equal(t, -28, Bw20.SubcarrierIndex(idx[0]))
	assert.Equal(t, 28, Bw20.SubcarrierIndex(idx[len(idx)-1]))

	assert.Len(t, Bw160.DataSubcarriers(), 468)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "80MHz", Bw80.String())
	assert.Equal(t, "5GHz", Band5G.String())
	assert.Equal(t, "data", Data.String())
}

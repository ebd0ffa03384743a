package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeShares(t *testing.T) {
	cases := []struct {
		name         string
		price        uint64
		cut          uint64
		wantPlatform uint64
		wantSeller   uint64
	}{
		{"one basis point of a million", 1_000_000, 100, 100, 999_900},
		{"zero cut pays seller in full", 1_000_000, 0, 0, 1_000_000},
		{"cut rounds down", 999, 100, 0, 999},
		{"max cut", 1_000_000, 999_999, 999_999, 1},
		{"small price large cut", 3, 500_000, 1, 2},
		{"max price does not overflow", math.MaxUint64, 999_999, 18446725626965477905, 18446744073710},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			platform, seller := ComputeShares(tc.price, tc.cut)
			assert.Equal(t, tc.wantPlatform, platform)
			assert.Equal(t, tc.wantSeller, seller)
			assert.Equal(t, tc.price, platform+seller, "shares must sum to price")
		})
	}
}

func TestValidCut(t *testing.T) {
	assert.True(t, ValidCut(0))
	assert.True(t, ValidCut(999_999))
	assert.False(t, ValidCut(1_000_000))
	assert.False(t, ValidCut(math.MaxUint64))
}

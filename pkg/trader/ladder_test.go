package trader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/spotcycle/pkg/models"
)

func testTiers() []models.LadderTier {
	return []models.LadderTier{
		{DeviationThreshold: d("0.02"), OrderQuantity: 1, SellSpread: d("0.5")},
		{DeviationThreshold: d("0.05"), OrderQuantity: 2, SellSpread: d("1")},
		{DeviationThreshold: d("0.10"), OrderQuantity: 4, SellSpread: d("2")},
	}
}

func TestResolveTierPicksTightestSatisfiedBound(t *testing.T) {
	tests := []struct {
		deviation string
		wantQty   int64
	}{
		{"0.02", 1},  // exactly the first threshold
		{"0.03", 1},  // between first and second
		{"0.05", 2},  // exactly the second threshold
		{"0.07", 2},  // between second and third
		{"0.10", 4},  // exactly the third threshold
		{"0.50", 4},  // beyond the ladder
	}

	for _, tt := range tests {
		tier, ok := resolveTier(testTiers(), d(tt.deviation))
		require.True(t, ok, "deviation %s", tt.deviation)
		assert.Equal(t, tt.wantQty, tier.OrderQuantity, "deviation %s", tt.deviation)
	}
}

func TestResolveTierBelowLowestThreshold(t *testing.T) {
	_, ok := resolveTier(testTiers(), d("0.01"))
	assert.False(t, ok)
}

func TestResolveTierEmptyLadder(t *testing.T) {
	_, ok := resolveTier(nil, d("0.05"))
	assert.False(t, ok)
}

package trader

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRelGap(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"positive gap", "100", "95", "0.0526315789473684"},
		{"no gap", "95", "95", "0"},
		{"negative gap", "90", "100", "-0.1"},
		{"zero reference", "100", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := relGap(d(tt.a), d(tt.b))
			assert.True(t, got.Equal(d(tt.want)), "relGap(%s, %s) = %s", tt.a, tt.b, got)
		})
	}
}

func TestGapAtLeastBoundaryEqualityPasses(t *testing.T) {
	// (102-100)/100 = 0.02 exactly
	assert.True(t, gapAtLeast(d("102"), d("100"), d("0.02")))
	assert.True(t, gapAtLeast(d("103"), d("100"), d("0.02")))
	assert.False(t, gapAtLeast(d("101"), d("100"), d("0.02")))
}

func TestGapAtLeastZeroThreshold(t *testing.T) {
	assert.True(t, gapAtLeast(d("100"), d("100"), decimal.Zero))
	assert.False(t, gapAtLeast(d("99"), d("100"), decimal.Zero))
}

package risk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantitySizingLaw(t *testing.T) {
	cases := []struct {
		name       string
		risk       float64
		multiplier float64
		atr        float64
		precision  int
		wantStr    string
		wantQty    float64
	}{
		{"whole number", 100, 2.5, 2.0, 3, "20", 20},
		{"fractional", 100, 2.5, 16.0, 3, "2.5", 2.5},
		{"rounds to precision", 100, 2.5, 3.0, 3, "13.333", 13.333},
		{"zero precision", 100, 2.5, 3.0, 0, "13", 13},
		{"large atr small qty", 100, 1.5, 40000, 3, "0.002", 0.002},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSizer(tc.risk, tc.multiplier)
			str, qty, err := s.Quantity(tc.atr, tc.precision)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStr, str)
			assert.InDelta(t, tc.wantQty, qty, 1e-9)
			assert.Greater(t, qty, 0.0)
		})
	}
}

func TestQuantityWireFormatHasNoTrailingZeros(t *testing.T) {
	s := NewSizer(100, 2.5)
	str, _, err := s.Quantity(16.0, 5)
	require.NoError(t, err)
	assert.Equal(t, "2.5", str)
	assert.False(t, strings.HasSuffix(str, "."))
	assert.False(t, strings.HasSuffix(str, "0"))
}

func TestQuantityFractionalDigitsBoundedByPrecision(t *testing.T) {
	s := NewSizer(100, 2.5)
	for precision := 0; precision <= 6; precision++ {
		str, _, err := s.Quantity(3.0, precision)
		require.NoError(t, err)
		if i := strings.IndexByte(str, '.'); i >= 0 {
			assert.LessOrEqual(t, len(str)-i-1, precision, "quantity %q at precision %d", str, precision)
		}
	}
}

func TestQuantityIneligibleInputs(t *testing.T) {
	s := NewSizer(100, 2.5)

	_, _, err := s.Quantity(0, 3)
	assert.ErrorIs(t, err, ErrIneligible)

	_, _, err = s.Quantity(-1.5, 3)
	assert.ErrorIs(t, err, ErrIneligible)
}

func TestQuantityRoundingToZeroIsIneligible(t *testing.T) {
	// Huge stop distance drives the quantity under the precision floor:
	// this must be refused, not sent as a zero-size order.
	s := NewSizer(1, 2.5)
	_, _, err := s.Quantity(1e6, 3)
	assert.ErrorIs(t, err, ErrIneligible)
}

func TestStopDistance(t *testing.T) {
	s := NewSizer(100, 2.5)
	assert.InDelta(t, 5.0, s.StopDistance(2.0), 1e-9)
}

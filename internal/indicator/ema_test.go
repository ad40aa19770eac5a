package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEMAInvalidPeriod verifies that periods below 1 are rejected.
func TestEMAInvalidPeriod(t *testing.T) {
	_, err := EMA([]float64{1, 2, 3}, 0)
	require.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = EMA([]float64{1, 2, 3}, -5)
	require.ErrorIs(t, err, ErrInvalidPeriod)
}

// TestEMAConstantSeries verifies the fixed-point property: the EMA of a
// constant series is that constant at every index.
func TestEMAConstantSeries(t *testing.T) {
	prices := make([]float64, 50)
	for i := range prices {
		prices[i] = 42.5
	}

	ema, err := EMA(prices, 9)
	require.NoError(t, err)
	require.Len(t, ema, len(prices))

	for i, v := range ema {
		assert.InDelta(t, 42.5, v, 1e-12, "index %d should stay at the constant", i)
	}
}

// TestEMARecurrence checks a hand-computed case with alpha = 0.5.
func TestEMARecurrence(t *testing.T) {
	ema, err := EMA([]float64{1, 2, 4}, 3) // alpha = 2/(3+1) = 0.5
	require.NoError(t, err)
	require.Len(t, ema, 3)

	assert.Equal(t, 1.0, ema[0], "ema should be seeded with the first price")
	assert.Equal(t, 1.5, ema[1])
	assert.Equal(t, 2.75, ema[2])
}

// TestEMAIdempotent verifies recompute-from-scratch determinism: two runs
// over identical input are bitwise identical.
func TestEMAIdempotent(t *testing.T) {
	prices := []float64{100.1, 101.7, 99.2, 98.4, 103.9, 104.2, 101.1}

	first, err := EMA(prices, 5)
	require.NoError(t, err)
	second, err := EMA(prices, 5)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

// TestEMAEmpty verifies the degenerate input cases.
func TestEMAEmpty(t *testing.T) {
	ema, err := EMA(nil, 10)
	require.NoError(t, err)
	assert.Empty(t, ema)

	ema, err = EMA([]float64{7}, 10)
	require.NoError(t, err)
	require.Len(t, ema, 1)
	assert.Equal(t, 7.0, ema[0])
}

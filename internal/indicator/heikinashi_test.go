package indicator

import (
	"testing"
	"time"

	"ha-trend-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(o, h, l, c float64) models.Bar {
	return models.Bar{Timestamp: time.Now(), Open: o, High: h, Low: l, Close: c}
}

// TestHeikinAshiSingleBar verifies the seed case: ha_close is the OHLC
// average, ha_open equals ha_close, and high/low pass through raw values.
func TestHeikinAshiSingleBar(t *testing.T) {
	ha := HeikinAshi([]models.Bar{bar(10, 14, 8, 12)})
	require.Len(t, ha, 1)

	assert.Equal(t, 11.0, ha[0].Close, "ha close should be the OHLC average")
	assert.Equal(t, ha[0].Close, ha[0].Open, "first ha open should equal first ha close")
	assert.Equal(t, 14.0, ha[0].High, "first ha high should be the raw high")
	assert.Equal(t, 8.0, ha[0].Low, "first ha low should be the raw low")
}

// TestHeikinAshiRecurrence checks the recursive open and the high/low
// envelope on a two-bar sequence.
func TestHeikinAshiRecurrence(t *testing.T) {
	ha := HeikinAshi([]models.Bar{
		bar(10, 12, 8, 11),
		bar(11, 14, 10, 13),
	})
	require.Len(t, ha, 2)

	assert.Equal(t, 10.25, ha[0].Close)
	assert.Equal(t, 12.0, ha[1].Close)
	assert.Equal(t, 10.25, ha[1].Open, "ha open should average the previous ha open and close")
	assert.Equal(t, 14.0, ha[1].High, "ha high should take the raw high when it dominates")
	assert.Equal(t, 10.0, ha[1].Low, "ha low should take the raw low when it dominates")
}

// TestHeikinAshiLengthAndEmpty verifies the length invariant including the
// degenerate cases.
func TestHeikinAshiLengthAndEmpty(t *testing.T) {
	assert.Empty(t, HeikinAshi(nil))
	assert.Empty(t, HeikinAshi([]models.Bar{}))

	bars := []models.Bar{bar(1, 2, 0, 1), bar(1, 3, 1, 2), bar(2, 4, 2, 3)}
	assert.Len(t, HeikinAshi(bars), len(bars))
}

// TestHeikinAshiIdempotent verifies that recomputing from identical raw
// data yields identical output.
func TestHeikinAshiIdempotent(t *testing.T) {
	bars := []models.Bar{
		bar(100, 101, 99, 100.5),
		bar(100.5, 102, 100, 101.7),
		bar(101.7, 103, 101, 102.2),
		bar(102.2, 102.5, 100.1, 100.3),
	}
	first := HeikinAshi(bars)
	second := HeikinAshi(bars)
	assert.Equal(t, first, second, "recomputation from the same input must be bitwise identical")
}

// Package indicator computes the strategy's smoothed bar and moving-average
// series. All computations rebuild the full output sequence from the raw
// input on every call; incremental carry-forward is deliberately not
// supported, so the same input always produces bitwise-identical output.
package indicator

import "ha-trend-bot/internal/models"

// HeikinAshi converts a raw bar sequence into Heikin-Ashi bars.
//
// ha_close[i] = (open+high+low+close)[i] / 4
// ha_open[0]  = ha_close[0]
// ha_open[i]  = (ha_open[i-1] + ha_close[i-1]) / 2
// ha_high[i]  = max(high[i], ha_open[i], ha_close[i])
// ha_low[i]   = min(low[i],  ha_open[i], ha_close[i])
//
// The output always has the same length as the input; empty and
// single-element inputs are valid.
func HeikinAshi(bars []models.Bar) []models.HeikinAshiBar {
	ha := make([]models.HeikinAshiBar, len(bars))
	if len(bars) == 0 {
		return ha
	}

	first := bars[0]
	ha[0].Close = (first.Open + first.High + first.Low + first.Close) / 4
	ha[0].Open = ha[0].Close
	ha[0].High = first.High
	ha[0].Low = first.Low

	for i := 1; i < len(bars); i++ {
		b := bars[i]
		ha[i].Close = (b.Open + b.High + b.Low + b.Close) / 4
		ha[i].Open = (ha[i-1].Open + ha[i-1].Close) / 2
		ha[i].High = max3(b.High, ha[i].Open, ha[i].Close)
		ha[i].Low = min3(b.Low, ha[i].Open, ha[i].Close)
	}
	return ha
}

// Closes extracts the close series from a Heikin-Ashi sequence.
func Closes(ha []models.HeikinAshiBar) []float64 {
	closes := make([]float64, len(ha))
	for i, b := range ha {
		closes[i] = b.Close
	}
	return closes
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

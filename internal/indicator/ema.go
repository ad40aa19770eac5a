package indicator

import "errors"

// ErrInvalidPeriod is returned for EMA periods below 1. Configurations are
// validated against it at load time, so it never surfaces per bar.
var ErrInvalidPeriod = errors.New("ema period must be at least 1")

// EMA computes an exponential moving average over prices with
// alpha = 2/(period+1). The series is seeded with prices[0] and has the
// same length as the input.
func EMA(prices []float64, period int) ([]float64, error) {
	if period < 1 {
		return nil, ErrInvalidPeriod
	}

	ema := make([]float64, len(prices))
	if len(prices) == 0 {
		return ema, nil
	}

	alpha := 2.0 / (float64(period) + 1)
	ema[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		ema[i] = prices[i]*alpha + ema[i-1]*(1-alpha)
	}
	return ema, nil
}

// Package indicator computes technical indicators over close-price series.
package indicator

import (
	"errors"
	"fmt"
)

// ErrNotEnoughData is returned when a series is shorter than period+1.
var ErrNotEnoughData = errors.New("indicator: not enough data")

// RSI returns the relative strength index of the last close in the series.
//
// Gains and losses are averaged with a simple mean over the trailing period
// deltas rather than Wilder's exponential smoothing, so the value only depends
// on the last period+1 closes.
func RSI(closes []float64, period int) (float64, error) {
	if period < 1 {
		return 0, fmt.Errorf("indicator: invalid period %d", period)
	}
	if len(closes) < period+1 {
		return 0, fmt.Errorf("%w: have %d closes, need %d", ErrNotEnoughData, len(closes), period+1)
	}

	window := closes[len(closes)-period-1:]
	var gainSum, lossSum float64
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		switch {
		case delta > 0:
			gainSum += delta
		case delta < 0:
			lossSum -= delta
		}
	}

	meanGain := gainSum / float64(period)
	meanLoss := lossSum / float64(period)
	if meanLoss == 0 {
		return 100, nil
	}
	rs := meanGain / meanLoss
	return 100 - 100/(1+rs), nil
}

// Series returns the RSI for every close that has a full window behind it.
// The result is aligned with closes[period:].
func Series(closes []float64, period int) ([]float64, error) {
	if len(closes) < period+1 {
		return nil, fmt.Errorf("%w: have %d closes, need %d", ErrNotEnoughData, len(closes), period+1)
	}
	out := make([]float64, 0, len(closes)-period)
	for end := period + 1; end <= len(closes); end++ {
		v, err := RSI(closes[:end], period)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

package indicator

import "errors"

// trendBand is the hysteresis applied before a move counts as rising or falling.
const trendBand = 1.0

// Trend is the direction of the indicator between the last two closes.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendNeutral Trend = "neutral"
)

// Zone classifies a value against the overbought/oversold levels. Boundaries
// belong to the zone.
type Zone string

const (
	ZoneOverbought Zone = "overbought"
	ZoneOversold   Zone = "oversold"
	ZoneNeutral    Zone = "neutral"
)

// Sample is the indicator state needed to decide a crossover.
type Sample struct {
	Value         float64
	PreviousValue float64
	// HasPrevious is false when the series was too short for a second value;
	// PreviousValue is then 0.
	HasPrevious bool
	Trend       Trend
}

// NewSample computes the RSI of the full series and of the series without its
// last close.
func NewSample(closes []float64, period int) (Sample, error) {
	current, err := RSI(closes, period)
	if err != nil {
		return Sample{}, err
	}

	s := Sample{Value: current, Trend: TrendNeutral}
	if len(closes) == 0 {
		return s, nil
	}
	previous, err := RSI(closes[:len(closes)-1], period)
	switch {
	case errors.Is(err, ErrNotEnoughData):
		return s, nil
	case err != nil:
		return Sample{}, err
	}

	s.PreviousValue = previous
	s.HasPrevious = true
	switch {
	case current > previous+trendBand:
		s.Trend = TrendRising
	case current < previous-trendBand:
		s.Trend = TrendFalling
	}
	return s, nil
}

// IsAbove reports whether the value is at or above level.
func (s Sample) IsAbove(level float64) bool {
	return s.Value >= level
}

// IsBelow reports whether the value is at or below level.
func (s Sample) IsBelow(level float64) bool {
	return s.Value <= level
}

// Zone classifies the current value.
func (s Sample) Zone(overbought, oversold float64) Zone {
	switch {
	case s.IsAbove(overbought):
		return ZoneOverbought
	case s.IsBelow(oversold):
		return ZoneOversold
	default:
		return ZoneNeutral
	}
}

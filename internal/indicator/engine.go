package indicator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"crypto-alerts/internal/alert"
)

// HistoryBuffer is the number of closes fetched beyond the minimum period+1.
const HistoryBuffer = 20

// ClosesSource supplies ordered (oldest first) close prices.
type ClosesSource interface {
	HistoricalCloses(ctx context.Context, symbol string, tf alert.Timeframe, count int) ([]float64, error)
}

// Engine computes indicator samples from fetched history.
type Engine struct {
	source ClosesSource
	logger zerolog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(source ClosesSource, logger zerolog.Logger) *Engine {
	return &Engine{source: source, logger: logger.With().Str("component", "indicator").Logger()}
}

// RSISample fetches period+HistoryBuffer closes and derives the current and previous RSI.
func (e *Engine) RSISample(ctx context.Context, symbol string, tf alert.Timeframe, cfg alert.RSIConfig) (Sample, error) {
	closes, err := e.source.HistoricalCloses(ctx, symbol, tf, cfg.Period+HistoryBuffer)
	if err != nil {
		return Sample{}, fmt.Errorf("fetch closes %s %s: %w", symbol, tf, err)
	}

	sample, err := NewSample(closes, cfg.Period)
	if err != nil {
		return Sample{}, fmt.Errorf("rsi %s %s: %w", symbol, tf, err)
	}

	e.logger.Debug().
		Str("symbol", symbol).
		Str("timeframe", string(tf)).
		Int("closes", len(closes)).
		Float64("rsi", sample.Value).
		Float64("previous", sample.PreviousValue).
		Str("zone", string(sample.Zone(cfg.OverboughtLevel, cfg.OversoldLevel))).
		Str("trend", string(sample.Trend)).
		Msg("rsi calculated")
	return sample, nil
}

// Package market provides spot prices and candle history for alert evaluation.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alert"
)

// ErrUnavailable marks a price or history that could not be obtained.
var ErrUnavailable = errors.New("market data unavailable")

// Candle is one OHLCV bar. OpenTime is UTC.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// PriceSource retrieves the current spot price of a symbol quoted in USDT.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// CandleSource retrieves the most recent candles, oldest first.
type CandleSource interface {
	Candles(ctx context.Context, symbol string, tf alert.Timeframe, limit int) ([]Candle, error)
}

// Source is what evaluation consumes.
type Source interface {
	PriceSource
	HistoricalCloses(ctx context.Context, symbol string, tf alert.Timeframe, count int) ([]float64, error)
}

// Feed joins a price source and a candle source.
type Feed struct {
	prices  PriceSource
	candles CandleSource
}

// NewFeed constructs a Feed.
func NewFeed(prices PriceSource, candles CandleSource) *Feed {
	return &Feed{prices: prices, candles: candles}
}

// CurrentPrice delegates to the price source.
func (f *Feed) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.prices.CurrentPrice(ctx, symbol)
}

// HistoricalCloses returns up to count closes, oldest first.
func (f *Feed) HistoricalCloses(ctx context.Context, symbol string, tf alert.Timeframe, count int) ([]float64, error) {
	candles, err := f.candles.Candles(ctx, symbol, tf, count)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s %s", ErrUnavailable, symbol, tf)
	}
	return Closes(tail(candles, count)), nil
}

// Closes extracts close prices.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func tail(candles []Candle, n int) []Candle {
	if n > 0 && len(candles) > n {
		return candles[len(candles)-n:]
	}
	return candles
}

var _ Source = (*Feed)(nil)

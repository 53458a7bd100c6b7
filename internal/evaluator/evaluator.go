// Package evaluator decides whether an alert's condition holds against current market data.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alert"
	"crypto-alerts/internal/indicator"
	"crypto-alerts/internal/market"
)

// Result is the three-way evaluation verdict.
type Result string

const (
	NotFired        Result = "not_fired"
	Fired           Result = "fired"
	DataUnavailable Result = "data_unavailable"
)

// Crossing names the RSI zone transition that fired an indicator alert.
type Crossing string

const (
	CrossingNone           Crossing = ""
	CrossedAboveOverbought Crossing = "crossed_above_overbought"
	CrossedBelowOversold   Crossing = "crossed_below_oversold"
	ExitedOverbought       Crossing = "exited_overbought"
	ExitedOversold         Crossing = "exited_oversold"
)

// Outcome is the verdict plus the data it was based on.
type Outcome struct {
	Result Result
	// Quantity is the price or ratio for price alerts.
	Quantity decimal.Decimal
	// Prices holds every leg price fetched for a price alert.
	Prices   map[string]decimal.Decimal
	Sample   indicator.Sample
	Crossing Crossing
	// Err explains DataUnavailable.
	Err error
}

// RSISampler produces the current/previous RSI pair for a symbol.
type RSISampler interface {
	RSISample(ctx context.Context, symbol string, tf alert.Timeframe, cfg alert.RSIConfig) (indicator.Sample, error)
}

// Options parameterise the evaluator.
type Options struct {
	// FetchTimeout bounds the market data reads of one evaluation.
	FetchTimeout time.Duration
}

// Evaluator is stateless and safe for concurrent use.
type Evaluator struct {
	prices market.PriceSource
	rsi    RSISampler
	opts   Options
	logger zerolog.Logger
}

// New constructs an Evaluator.
func New(prices market.PriceSource, rsi RSISampler, opts Options, logger zerolog.Logger) *Evaluator {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	return &Evaluator{
		prices: prices,
		rsi:    rsi,
		opts:   opts,
		logger: logger.With().Str("component", "evaluator").Logger(),
	}
}

// Evaluate checks one alert. Fetch failures and timeouts yield DataUnavailable.
func (e *Evaluator) Evaluate(ctx context.Context, a alert.Alert) Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	defer cancel()

	var out Outcome
	switch a.Kind {
	case alert.KindPriceSingle, alert.KindPriceRatio:
		out = e.evaluatePrice(ctx, a)
	case alert.KindIndicatorRSI:
		out = e.evaluateRSI(ctx, a)
	default:
		out = unavailable(fmt.Errorf("unknown alert kind %q", a.Kind))
	}

	ev := e.logger.Debug().Str("alert_id", a.ID).Str("kind", string(a.Kind)).Str("result", string(out.Result))
	if out.Err != nil {
		ev = ev.Err(out.Err)
	}
	ev.Msg("alert evaluated")
	return out
}

func (e *Evaluator) evaluatePrice(ctx context.Context, a alert.Alert) Outcome {
	cond := a.Price
	if cond == nil {
		return unavailable(errors.New("price alert without condition"))
	}

	out := Outcome{Prices: make(map[string]decimal.Decimal, 2)}
	if a.Kind == alert.KindPriceRatio {
		p1, err := e.prices.CurrentPrice(ctx, cond.Symbol1)
		if err != nil {
			return unavailable(fmt.Errorf("price %s: %w", cond.Symbol1, err))
		}
		p2, err := e.prices.CurrentPrice(ctx, cond.Symbol2)
		if err != nil {
			return unavailable(fmt.Errorf("price %s: %w", cond.Symbol2, err))
		}
		if p2.IsZero() {
			return unavailable(fmt.Errorf("%w: zero price for %s", market.ErrUnavailable, cond.Symbol2))
		}
		out.Prices[cond.Symbol1] = p1
		out.Prices[cond.Symbol2] = p2
		out.Quantity = p1.Div(p2)
	} else {
		p, err := e.prices.CurrentPrice(ctx, cond.Symbol)
		if err != nil {
			return unavailable(fmt.Errorf("price %s: %w", cond.Symbol, err))
		}
		out.Prices[cond.Symbol] = p
		out.Quantity = p
	}

	out.Result = NotFired
	if cond.Operator.Compare(out.Quantity, cond.Threshold) {
		out.Result = Fired
	}
	return out
}

func (e *Evaluator) evaluateRSI(ctx context.Context, a alert.Alert) Outcome {
	cond := a.Indicator
	if cond == nil {
		return unavailable(errors.New("indicator alert without condition"))
	}

	sample, err := e.rsi.RSISample(ctx, cond.Symbol, cond.Timeframe, cond.Config)
	if err != nil {
		return unavailable(err)
	}
	// A series too short for a previous value compares against 0.
	out := Outcome{Sample: sample, Result: NotFired}
	if c := DetectCrossing(sample, cond.Config.OverboughtLevel, cond.Config.OversoldLevel); c != CrossingNone {
		out.Result = Fired
		out.Crossing = c
	}
	return out
}

// DetectCrossing classifies the transition from PreviousValue to Value. Values equal
// to a level count as inside that level's zone.
func DetectCrossing(s indicator.Sample, overbought, oversold float64) Crossing {
	prev, cur := s.PreviousValue, s.Value
	switch {
	case cur >= overbought && prev < overbought:
		return CrossedAboveOverbought
	case cur <= oversold && prev > oversold:
		return CrossedBelowOversold
	case cur < overbought && prev >= overbought:
		return ExitedOverbought
	case cur > oversold && prev <= oversold:
		return ExitedOversold
	}
	return CrossingNone
}

func unavailable(err error) Outcome {
	return Outcome{Result: DataUnavailable, Err: err}
}

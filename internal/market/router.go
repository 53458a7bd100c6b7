package market

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alert"
)

// Exchange is a venue that serves both prices and candles.
type Exchange interface {
	PriceSource
	CandleSource
}

// RouterOptions select the venue per symbol.
type RouterOptions struct {
	// Secondary receives the symbols listed in SecondarySymbols.
	SecondarySymbols []string
	// OnChain, when set, is asked first for symbols it has a feed for.
	OnChain *Chainlink
}

// Router picks the venue for a symbol: on-chain feed for prices when configured,
// the secondary exchange for its listed symbols, the primary exchange otherwise.
type Router struct {
	primary   Exchange
	secondary Exchange
	onChain   *Chainlink
	listed    map[string]struct{}
	logger    zerolog.Logger
}

// NewRouter constructs a Router. secondary may be nil.
func NewRouter(primary, secondary Exchange, opts RouterOptions, logger zerolog.Logger) *Router {
	listed := make(map[string]struct{}, len(opts.SecondarySymbols))
	for _, s := range opts.SecondarySymbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			listed[s] = struct{}{}
		}
	}
	return &Router{
		primary:   primary,
		secondary: secondary,
		onChain:   opts.OnChain,
		listed:    listed,
		logger:    logger.With().Str("component", "market_router").Logger(),
	}
}

func (r *Router) exchangeFor(symbol string) Exchange {
	if r.secondary == nil {
		return r.primary
	}
	if _, ok := r.listed[strings.ToUpper(symbol)]; ok {
		return r.secondary
	}
	return r.primary
}

// CurrentPrice routes the price lookup. A failing on-chain read falls back to the exchange.
func (r *Router) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if r.onChain != nil && r.onChain.Has(symbol) {
		price, err := r.onChain.CurrentPrice(ctx, symbol)
		if err == nil {
			return price, nil
		}
		r.logger.Warn().Err(err).Str("symbol", symbol).Msg("on-chain price failed, falling back to exchange")
	}
	return r.exchangeFor(symbol).CurrentPrice(ctx, symbol)
}

// Candles routes the history lookup.
func (r *Router) Candles(ctx context.Context, symbol string, tf alert.Timeframe, limit int) ([]Candle, error) {
	return r.exchangeFor(symbol).Candles(ctx, symbol, tf, limit)
}

var _ Exchange = (*Router)(nil)

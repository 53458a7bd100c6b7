package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alert"
)

const (
	binanceTickerPath = "/api/v3/ticker/price"
	binanceKlinesPath = "/api/v3/klines"
	binanceMaxLimit   = 1000
)

// Binance reads spot prices and klines from the Binance public API.
type Binance struct {
	client *restClient
	logger zerolog.Logger
}

// NewBinance constructs a Binance client.
func NewBinance(opts ClientOptions, logger zerolog.Logger) *Binance {
	return &Binance{
		client: newRESTClient("binance", "https://api.binance.com", opts),
		logger: logger.With().Str("component", "binance").Logger(),
	}
}

// Pair maps BTC to BTCUSDT.
func (b *Binance) Pair(symbol string) string {
	return strings.ToUpper(symbol) + "USDT"
}

// CurrentPrice returns the last traded price.
func (b *Binance) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var res struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := b.client.get(ctx, binanceTickerPath, map[string]string{"symbol": b.Pair(symbol)}, &res); err != nil {
		return decimal.Decimal{}, err
	}
	price, err := decimal.NewFromString(res.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: parse binance price %q: %w", ErrUnavailable, res.Price, err)
	}
	b.logger.Debug().Str("symbol", symbol).Str("price", price.String()).Msg("binance price")
	return price, nil
}

// Candles returns up to limit klines, oldest first.
func (b *Binance) Candles(ctx context.Context, symbol string, tf alert.Timeframe, limit int) ([]Candle, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}
	if limit <= 0 || limit > binanceMaxLimit {
		limit = binanceMaxLimit
	}

	var rows [][]json.RawMessage
	params := map[string]string{
		"symbol":   b.Pair(symbol),
		"interval": string(tf),
		"limit":    strconv.Itoa(limit),
	}
	if err := b.client.get(ctx, binanceKlinesPath, params, &rows); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseBinanceKline(row)
		if err != nil {
			return nil, fmt.Errorf("%w: binance kline %s: %w", ErrUnavailable, symbol, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// parseBinanceKline decodes [openTime, open, high, low, close, volume, ...].
func parseBinanceKline(row []json.RawMessage) (Candle, error) {
	if len(row) < 6 {
		return Candle{}, fmt.Errorf("short kline row (%d fields)", len(row))
	}
	var openMillis int64
	if err := json.Unmarshal(row[0], &openMillis); err != nil {
		return Candle{}, fmt.Errorf("open time: %w", err)
	}
	values := make([]float64, 5)
	for i := range values {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		values[i] = v
	}
	return Candle{
		OpenTime: time.UnixMilli(openMillis).UTC(),
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
	}, nil
}

var (
	_ PriceSource  = (*Binance)(nil)
	_ CandleSource = (*Binance)(nil)
)

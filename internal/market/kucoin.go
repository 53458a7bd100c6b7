package market

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alert"
)

const (
	kucoinLevel1Path  = "/api/v1/market/orderbook/level1"
	kucoinCandlesPath = "/api/v1/market/candles"
	kucoinOK          = "200000"
)

var kucoinIntervals = map[alert.Timeframe]string{
	alert.Timeframe1m:  "1min",
	alert.Timeframe5m:  "5min",
	alert.Timeframe15m: "15min",
	alert.Timeframe1h:  "1hour",
	alert.Timeframe4h:  "4hour",
	alert.Timeframe1d:  "1day",
}

// KuCoin reads spot prices and candles for symbols not listed on Binance.
type KuCoin struct {
	client *restClient
	logger zerolog.Logger
	now    func() time.Time
}

// NewKuCoin constructs a KuCoin client.
func NewKuCoin(opts ClientOptions, logger zerolog.Logger) *KuCoin {
	return &KuCoin{
		client: newRESTClient("kucoin", "https://api.kucoin.com", opts),
		logger: logger.With().Str("component", "kucoin").Logger(),
		now:    time.Now,
	}
}

// Pair maps AKT to AKT-USDT.
func (k *KuCoin) Pair(symbol string) string {
	return strings.ToUpper(symbol) + "-USDT"
}

type kucoinEnvelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// CurrentPrice returns the level-1 last price.
func (k *KuCoin) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var res kucoinEnvelope[*struct {
		Price string `json:"price"`
	}]
	if err := k.client.get(ctx, kucoinLevel1Path, map[string]string{"symbol": k.Pair(symbol)}, &res); err != nil {
		return decimal.Decimal{}, err
	}
	if res.Code != kucoinOK || res.Data == nil {
		return decimal.Decimal{}, fmt.Errorf("%w: kucoin api error %s: %s", ErrUnavailable, res.Code, res.Msg)
	}
	price, err := decimal.NewFromString(res.Data.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: parse kucoin price %q: %w", ErrUnavailable, res.Data.Price, err)
	}
	k.logger.Debug().Str("symbol", symbol).Str("price", price.String()).Msg("kucoin price")
	return price, nil
}

// Candles returns up to limit candles, oldest first. KuCoin answers newest first
// and has no limit parameter, so the window is bounded by startAt.
func (k *KuCoin) Candles(ctx context.Context, symbol string, tf alert.Timeframe, limit int) ([]Candle, error) {
	interval, ok := kucoinIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}
	if limit <= 0 {
		limit = 100
	}

	end := k.now().UTC()
	start := end.Add(-time.Duration(limit+1) * tf.Duration())
	params := map[string]string{
		"type":    interval,
		"symbol":  k.Pair(symbol),
		"startAt": strconv.FormatInt(start.Unix(), 10),
		"endAt":   strconv.FormatInt(end.Unix(), 10),
	}

	var res kucoinEnvelope[[][]string]
	if err := k.client.get(ctx, kucoinCandlesPath, params, &res); err != nil {
		return nil, err
	}
	if res.Code != kucoinOK {
		return nil, fmt.Errorf("%w: kucoin api error %s: %s", ErrUnavailable, res.Code, res.Msg)
	}

	candles := make([]Candle, 0, len(res.Data))
	for _, row := range res.Data {
		c, err := parseKuCoinCandle(row)
		if err != nil {
			return nil, fmt.Errorf("%w: kucoin candle %s: %w", ErrUnavailable, symbol, err)
		}
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })
	return tail(candles, limit), nil
}

// parseKuCoinCandle decodes [time, open, close, high, low, volume, turnover].
func parseKuCoinCandle(row []string) (Candle, error) {
	if len(row) < 6 {
		return Candle{}, fmt.Errorf("short candle row (%d fields)", len(row))
	}
	sec, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("time: %w", err)
	}
	values := make([]float64, 5)
	for i := range values {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		values[i] = v
	}
	return Candle{
		OpenTime: time.Unix(sec, 0).UTC(),
		Open:     values[0],
		Close:    values[1],
		High:     values[2],
		Low:      values[3],
		Volume:   values[4],
	}, nil
}

var (
	_ PriceSource  = (*KuCoin)(nil)
	_ CandleSource = (*KuCoin)(nil)
)

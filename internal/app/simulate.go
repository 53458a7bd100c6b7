package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crypto-alerts/internal/market"
)

// Simulate 使用给定的静态价格跑一次演练周期: 不执行动作、不发送通知、不写存储。
// RSI 告警仍读取真实 K 线。
func (a *App) Simulate(ctx context.Context, out io.Writer, prices map[string]decimal.Decimal) error {
	if len(prices) == 0 {
		return errors.New("至少需要一个 --price SYMBOL=VALUE")
	}

	rt, err := a.build(ctx, staticPrices(prices), true)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.processor.RunCycle(ctx, time.Now())
	writeReport(out, report)
	return err
}

// ParsePrices parses SYMBOL=VALUE pairs.
func ParsePrices(pairs []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(pairs))
	for _, pair := range pairs {
		sym, raw, ok := strings.Cut(pair, "=")
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if !ok || sym == "" {
			return nil, fmt.Errorf("invalid price %q, expected SYMBOL=VALUE", pair)
		}
		value, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid price for %s: %w", sym, err)
		}
		if !value.IsPositive() {
			return nil, fmt.Errorf("price for %s must be greater than zero", sym)
		}
		prices[sym] = value
	}
	return prices, nil
}

type staticPrices map[string]decimal.Decimal

func (s staticPrices) CurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := s[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: no simulated price for %s", market.ErrUnavailable, symbol)
	}
	return p, nil
}

var _ market.PriceSource = staticPrices(nil)

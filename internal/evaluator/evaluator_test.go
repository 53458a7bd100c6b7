package evaluator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alert"
	"crypto-alerts/internal/indicator"
	"crypto-alerts/internal/market"
)

type staticPrices map[string]decimal.Decimal

func (s staticPrices) CurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := s[symbol]
	if !ok {
		return decimal.Decimal{}, market.ErrUnavailable
	}
	return p, nil
}

type staticRSI struct {
	sample indicator.Sample
	err    error
}

func (s staticRSI) RSISample(context.Context, string, alert.Timeframe, alert.RSIConfig) (indicator.Sample, error) {
	return s.sample, s.err
}

type slowPrices struct{}

func (slowPrices) CurrentPrice(ctx context.Context, _ string) (decimal.Decimal, error) {
	<-ctx.Done()
	return decimal.Decimal{}, ctx.Err()
}

func priceAlert(symbol string, op alert.Operator, threshold int64) alert.Alert {
	return alert.Alert{
		ID:     "p1",
		Kind:   alert.KindPriceSingle,
		Status: alert.StatusActive,
		Price:  &alert.PriceCondition{Symbol: symbol, Operator: op, Threshold: decimal.NewFromInt(threshold)},
	}
}

func rsiAlert() alert.Alert {
	return alert.Alert{
		ID:     "r1",
		Kind:   alert.KindIndicatorRSI,
		Status: alert.StatusActive,
		Indicator: &alert.IndicatorCondition{
			Symbol:        "BTC",
			IndicatorType: "rsi",
			Timeframe:     alert.Timeframe5m,
			Config:        alert.DefaultRSIConfig(),
		},
	}
}

func TestEvaluatePriceSingleScenario(t *testing.T) {
	a := priceAlert("BTC", alert.OpLess, 50000)
	cases := []struct {
		name   string
		prices staticPrices
		want   Result
	}{
		{"below", staticPrices{"BTC": decimal.NewFromInt(49000)}, Fired},
		{"above", staticPrices{"BTC": decimal.NewFromInt(51000)}, NotFired},
		{"boundary", staticPrices{"BTC": decimal.NewFromInt(50000)}, NotFired},
		{"unavailable", staticPrices{}, DataUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := New(tc.prices, staticRSI{}, Options{}, zerolog.Nop())
			out := ev.Evaluate(context.Background(), a)
			if out.Result != tc.want {
				t.Fatalf("期望 %s, 实际 %s (err=%v)", tc.want, out.Result, out.Err)
			}
		})
	}
}

func TestEvaluatePriceEqualFiresOnlyOnExactMatch(t *testing.T) {
	a := priceAlert("BTC", alert.OpEqual, 50000)
	ev := New(staticPrices{"BTC": decimal.NewFromInt(50000)}, staticRSI{}, Options{}, zerolog.Nop())
	if out := ev.Evaluate(context.Background(), a); out.Result != Fired {
		t.Fatalf("= at boundary should fire, got %s", out.Result)
	}
	ev = New(staticPrices{"BTC": decimal.RequireFromString("50000.0001")}, staticRSI{}, Options{}, zerolog.Nop())
	if out := ev.Evaluate(context.Background(), a); out.Result != NotFired {
		t.Fatalf("= has no tolerance, got %s", out.Result)
	}
}

func TestEvaluateRatio(t *testing.T) {
	a := alert.Alert{
		ID:     "ratio",
		Kind:   alert.KindPriceRatio,
		Status: alert.StatusActive,
		Price:  &alert.PriceCondition{Symbol1: "ETH", Symbol2: "BTC", Operator: alert.OpGreater, Threshold: decimal.RequireFromString("0.05")},
	}

	ev := New(staticPrices{"ETH": decimal.NewFromInt(3000), "BTC": decimal.NewFromInt(50000)}, staticRSI{}, Options{}, zerolog.Nop())
	out := ev.Evaluate(context.Background(), a)
	if out.Result != Fired {
		t.Fatalf("0.06 > 0.05 should fire, got %s", out.Result)
	}
	if !out.Quantity.Equal(decimal.RequireFromString("0.06")) || len(out.Prices) != 2 {
		t.Fatalf("unexpected outcome %+v", out)
	}

	ev = New(staticPrices{"ETH": decimal.NewFromInt(3000)}, staticRSI{}, Options{}, zerolog.Nop())
	if out := ev.Evaluate(context.Background(), a); out.Result != DataUnavailable {
		t.Fatalf("缺少第二条腿价格应为 DataUnavailable, 实际 %s", out.Result)
	}

	ev = New(staticPrices{"ETH": decimal.NewFromInt(3000), "BTC": decimal.Zero}, staticRSI{}, Options{}, zerolog.Nop())
	if out := ev.Evaluate(context.Background(), a); out.Result != DataUnavailable {
		t.Fatalf("zero denominator should be unavailable, got %s", out.Result)
	}
}

func TestEvaluateTimeoutIsUnavailable(t *testing.T) {
	ev := New(slowPrices{}, staticRSI{}, Options{FetchTimeout: 20 * time.Millisecond}, zerolog.Nop())
	out := ev.Evaluate(context.Background(), priceAlert("BTC", alert.OpLess, 1))
	if out.Result != DataUnavailable || !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Fatalf("timeout should yield DataUnavailable, got %s %v", out.Result, out.Err)
	}
}

func TestEvaluateRSIScenario(t *testing.T) {
	cases := []struct {
		name     string
		prev     float64
		cur      float64
		want     Result
		crossing Crossing
	}{
		{"upward crossing", 68, 72, Fired, CrossedAboveOverbought},
		{"already above", 72, 74, NotFired, CrossingNone},
		{"exit overbought", 72, 69, Fired, ExitedOverbought},
		{"downward crossing", 31, 29, Fired, CrossedBelowOversold},
		{"exit oversold", 29, 31, Fired, ExitedOversold},
		{"neutral", 50, 55, NotFired, CrossingNone},
		{"touch overbought", 69, 70, Fired, CrossedAboveOverbought},
		{"touch oversold", 31, 30, Fired, CrossedBelowOversold},
		{"repeat at overbought", 70, 70, NotFired, CrossingNone},
		{"repeat at oversold", 30, 30, NotFired, CrossingNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sample := indicator.Sample{Value: tc.cur, PreviousValue: tc.prev, HasPrevious: true}
			ev := New(staticPrices{}, staticRSI{sample: sample}, Options{}, zerolog.Nop())
			out := ev.Evaluate(context.Background(), rsiAlert())
			if out.Result != tc.want || out.Crossing != tc.crossing {
				t.Fatalf("%v -> %v: got %s/%q want %s/%q", tc.prev, tc.cur, out.Result, out.Crossing, tc.want, tc.crossing)
			}
		})
	}
}

// Two cycles sitting exactly on the level fire only on the transition cycle.
func TestEvaluateRSIRepeatedSamplesFireOnce(t *testing.T) {
	series := []indicator.Sample{
		{Value: 70, PreviousValue: 65, HasPrevious: true},
		{Value: 70, PreviousValue: 70, HasPrevious: true},
		{Value: 70, PreviousValue: 70, HasPrevious: true},
	}
	fired := 0
	for _, s := range series {
		ev := New(staticPrices{}, staticRSI{sample: s}, Options{}, zerolog.Nop())
		if ev.Evaluate(context.Background(), rsiAlert()).Result == Fired {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("应只在穿越周期触发一次, 实际 %d", fired)
	}
}

func TestEvaluateRSIWithoutPrevious(t *testing.T) {
	ev := New(staticPrices{}, staticRSI{sample: indicator.Sample{Value: 75}}, Options{}, zerolog.Nop())
	out := ev.Evaluate(context.Background(), rsiAlert())
	if out.Result != Fired || out.Crossing != CrossedAboveOverbought || out.Err != nil {
		t.Fatalf("缺少前值时应按 0 比较, got %s/%s %v", out.Result, out.Crossing, out.Err)
	}

	ev = New(staticPrices{}, staticRSI{sample: indicator.Sample{Value: 50}}, Options{}, zerolog.Nop())
	if out := ev.Evaluate(context.Background(), rsiAlert()); out.Result != Fired || out.Crossing != ExitedOversold {
		t.Fatalf("0 -> 50 should exit oversold, got %s/%s", out.Result, out.Crossing)
	}
}

func TestEvaluateRSIShortSeriesFromEngine(t *testing.T) {
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	engine := indicator.NewEngine(closesFunc(func() []float64 { return closes }), zerolog.Nop())
	out := New(staticPrices{}, engine, Options{}, zerolog.Nop()).Evaluate(context.Background(), rsiAlert())
	if out.Result != Fired || out.Crossing != CrossedAboveOverbought {
		t.Fatalf("got %s/%s sample=%+v", out.Result, out.Crossing, out.Sample)
	}
	if out.Sample.HasPrevious || out.Sample.PreviousValue != 0 || out.Sample.Value != 100 {
		t.Fatalf("unexpected sample %+v", out.Sample)
	}
}

func TestEvaluateRSISourceError(t *testing.T) {
	ev := New(staticPrices{}, staticRSI{err: market.ErrUnavailable}, Options{}, zerolog.Nop())
	if out := ev.Evaluate(context.Background(), rsiAlert()); out.Result != DataUnavailable {
		t.Fatalf("got %s", out.Result)
	}
}

func TestEvaluateRSIWithEngine(t *testing.T) {
	closes := []float64{44, 44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.85, 46.08, 45.89, 46.03, 46.28, 46.28, 46.00, 46.03, 46.41, 46.22, 45.64}
	engine := indicator.NewEngine(closesFunc(func() []float64 { return closes }), zerolog.Nop())
	ev := New(staticPrices{}, engine, Options{}, zerolog.Nop())

	// 73.51 -> 64.75 leaves the overbought zone.
	out := ev.Evaluate(context.Background(), rsiAlert())
	if out.Result != Fired || out.Crossing != ExitedOverbought {
		t.Fatalf("got %s/%s sample=%+v", out.Result, out.Crossing, out.Sample)
	}
}

type closesFunc func() []float64

func (f closesFunc) HistoricalCloses(context.Context, string, alert.Timeframe, int) ([]float64, error) {
	return f(), nil
}

package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alert"
	"crypto-alerts/internal/config"
	"crypto-alerts/internal/market"
	"crypto-alerts/internal/storage"
)

func testConfig(t *testing.T, binanceURL string) *config.Config {
	t.Helper()
	return &config.Config{
		App:   config.AppConfig{Name: "cryptoalerts-test"},
		Store: config.StoreConfig{Path: filepath.Join(t.TempDir(), "alerts.json")},
		Scheduler: config.SchedulerConfig{
			Interval:        time.Minute,
			AdvisoryLockKey: 1,
		},
		Market: config.MarketConfig{
			Binance: config.ExchangeConfig{BaseURL: binanceURL, RequestTimeout: time.Second},
			KuCoin:  config.ExchangeConfig{BaseURL: "http://127.0.0.1:1", RequestTimeout: time.Second},
		},
		Evaluation: config.EvaluationConfig{
			MaxWorkers:     4,
			FetchTimeout:   2 * time.Second,
			ActionTimeout:  time.Second,
			PersistTimeout: time.Second,
		},
		Chart: config.ChartConfig{Candles: 50, Width: 640, Height: 360},
	}
}

func seedAlert(t *testing.T, cfg *config.Config, a alert.Alert) {
	t.Helper()
	if err := storage.NewFileStore(cfg.Store.Path, zerolog.Nop()).CreateAlert(context.Background(), a); err != nil {
		t.Fatalf("seed alert: %v", err)
	}
}

func btcBelow(id string, threshold int64) alert.Alert {
	return alert.Alert{
		ID:          id,
		Kind:        alert.KindPriceSingle,
		Description: "dip",
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:      alert.StatusActive,
		Triggers:    []alert.ActionSpec{{Type: alert.ActionTypeTelegram, Message: "{symbol} dipped"}},
		Price:       &alert.PriceCondition{Symbol: "BTC", Operator: alert.OpLess, Threshold: decimal.NewFromInt(threshold)},
	}
}

func TestCycleFiresOnceAgainstLivePrices(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/price" || r.URL.Query().Get("symbol") != "BTCUSDT" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"49000.00"}`))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	seedAlert(t, cfg, btcBelow("fire", 50000))
	seedAlert(t, cfg, btcBelow("quiet", 40000))

	a := NewApp(cfg, zerolog.Nop())
	defer a.Close()

	var out bytes.Buffer
	if err := a.Cycle(context.Background(), &out); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !strings.Contains(out.String(), "fired=1") || !strings.Contains(out.String(), "BTC dipped") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}
	if hits.Load() != 1 {
		t.Fatalf("同一周期内价格应只拉取一次, hits=%d", hits.Load())
	}

	stored, err := storage.NewFileStore(cfg.Store.Path, zerolog.Nop()).GetAlert(context.Background(), "fire")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != alert.StatusFired || stored.FiredAt == nil {
		t.Fatalf("fired state not persisted: %+v", stored)
	}

	out.Reset()
	if err := a.Cycle(context.Background(), &out); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if !strings.Contains(out.String(), "candidates=1") || !strings.Contains(out.String(), "fired=0") {
		t.Fatalf("fired alert re-evaluated:\n%s", out.String())
	}
}

func TestSimulateDoesNotPersist(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	seedAlert(t, cfg, btcBelow("a", 50000))

	a := NewApp(cfg, zerolog.Nop())
	var out bytes.Buffer
	prices, err := ParsePrices([]string{"btc=49000"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := a.Simulate(context.Background(), &out, prices); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out.String(), "fired=1") || !strings.Contains(out.String(), "dry run") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}

	stored, _ := storage.NewFileStore(cfg.Store.Path, zerolog.Nop()).GetAlert(context.Background(), "a")
	if stored.Status != alert.StatusActive {
		t.Fatalf("演练不应修改告警状态: %s", stored.Status)
	}
}

func TestRearm(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	seedAlert(t, cfg, btcBelow("a", 50000).Fire(time.Now()))
	seedAlert(t, cfg, btcBelow("b", 50000))

	a := NewApp(cfg, zerolog.Nop())
	var out bytes.Buffer
	if err := a.Rearm(context.Background(), &out, "a"); err != nil {
		t.Fatalf("rearm: %v", err)
	}
	if err := a.Rearm(context.Background(), &out, "b"); err == nil {
		t.Fatal("rearm of an active alert should fail")
	}

	out.Reset()
	if err := a.List(context.Background(), &out, ListOptions{Enabled: "true"}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Count(out.String(), "price_single") != 2 || !strings.Contains(out.String(), "BTC < 50000") {
		t.Fatalf("unexpected table:\n%s", out.String())
	}
}

func TestParsePrices(t *testing.T) {
	prices, err := ParsePrices([]string{"btc=49000", " ETH = 2500.5 "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !prices["BTC"].Equal(decimal.NewFromInt(49000)) || prices["ETH"].String() != "2500.5" {
		t.Fatalf("unexpected prices %v", prices)
	}
	for _, bad := range []string{"BTC", "=1", "BTC=abc", "BTC=0"} {
		if _, err := ParsePrices([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestWarmTargets(t *testing.T) {
	rsi := func(sym string, tf alert.Timeframe, period int) alert.Alert {
		cfg := alert.DefaultRSIConfig()
		cfg.Period = period
		return alert.Alert{Kind: alert.KindIndicatorRSI, Indicator: &alert.IndicatorCondition{Symbol: sym, Timeframe: tf, Config: cfg}}
	}
	targets := warmTargets([]alert.Alert{
		rsi("ETH", alert.Timeframe1h, 14),
		rsi("BTC", alert.Timeframe5m, 14),
		rsi("BTC", alert.Timeframe5m, 30),
		btcBelow("p", 1),
	}, 0)

	if len(targets) != 2 {
		t.Fatalf("targets = %+v", targets)
	}
	if targets[0].symbol != "BTC" || targets[0].candles != 50 {
		t.Fatalf("应取最大需求 period+20: %+v", targets[0])
	}
	if targets[1].symbol != "ETH" || targets[1].candles != 34 {
		t.Fatalf("unexpected target %+v", targets[1])
	}
}

func TestChartExport(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, 20)
	for i := range candles {
		candles[i] = market.Candle{OpenTime: start.Add(time.Duration(i) * time.Hour), Close: 100 + float64(i%5)}
	}

	rows, err := chartRows(candles, 14)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if rows[13].HasRSI || !rows[14].HasRSI {
		t.Fatal("RSI should start at index period")
	}

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "btc.csv")
	if err := writeChartCSV(csvPath, rows); err != nil {
		t.Fatalf("csv: %v", err)
	}
	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 21 || lines[0] != "open_time,close,rsi" || !strings.HasSuffix(lines[1], ",") {
		t.Fatalf("unexpected csv:\n%s", data)
	}

	a := NewApp(testConfig(t, "http://127.0.0.1:1"), zerolog.Nop())
	pngPath := filepath.Join(dir, "btc.png")
	if err := a.writeChartPNG(pngPath, "BTC", rows, alert.DefaultRSIConfig()); err != nil {
		t.Fatalf("png: %v", err)
	}
	if info, err := os.Stat(pngPath); err != nil || info.Size() == 0 {
		t.Fatalf("png not written: %v", err)
	}
}

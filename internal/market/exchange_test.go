package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alert"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestBinanceCurrentPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != binanceTickerPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Fatalf("symbol 参数不正确: %s", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"symbol": "BTCUSDT", "price": "49000.12000000"})
	}))
	defer srv.Close()

	b := NewBinance(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	price, err := b.CurrentPrice(context.Background(), "btc")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("49000.12")) {
		t.Fatalf("期望 49000.12, 实际 %s", price)
	}
}

func TestBinanceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": -1121, "msg": "Invalid symbol."})
	}))
	defer srv.Close()

	b := NewBinance(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := b.CurrentPrice(context.Background(), "NOPE")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("HTTP 400 应返回 ErrUnavailable, 实际 %v", err)
	}
}

func TestBinanceCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("interval") != "5m" || q.Get("limit") != "2" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[
			[1700000000000,"100.0","101.0","99.0","100.5","12.3",1700000299999,"0",1,"0","0","0"],
			[1700000300000,"100.5","102.0","100.0","101.5","10.0",1700000599999,"0",1,"0","0","0"]
		]`))
	}))
	defer srv.Close()

	b := NewBinance(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	candles, err := b.Candles(context.Background(), "ETH", alert.Timeframe5m, 2)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(candles) != 2 || candles[1].Close != 101.5 || candles[0].High != 101 {
		t.Fatalf("unexpected candles %+v", candles)
	}
	if !candles[0].OpenTime.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("open time %s", candles[0].OpenTime)
	}
}

func TestKuCoinCandlesAreReordered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("type") != "1hour" || q.Get("symbol") != "AKT-USDT" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": "200000",
			"data": [][]string{
				{"1700007200", "3", "4", "4", "3", "1", "1"},
				{"1700003600", "2", "3", "3", "2", "1", "1"},
				{"1700000000", "1", "2", "2", "1", "1", "1"},
			},
		})
	}))
	defer srv.Close()

	k := NewKuCoin(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	k.now = func() time.Time { return time.Unix(1700007300, 0) }

	candles, err := k.Candles(context.Background(), "akt", alert.Timeframe1h, 2)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("应截取最近 2 根, 实际 %d", len(candles))
	}
	if candles[0].Close != 3 || candles[1].Close != 4 {
		t.Fatalf("K 线应按时间升序: %+v", candles)
	}
}

func TestKuCoinCurrentPriceAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "400100", "msg": "symbol not exists"})
	}))
	defer srv.Close()

	k := NewKuCoin(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := k.CurrentPrice(context.Background(), "XYZ"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestKuCoinCurrentPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "200000", "data": map[string]string{"price": "2.345"}})
	}))
	defer srv.Close()

	k := NewKuCoin(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	price, err := k.CurrentPrice(context.Background(), "AKT")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("2.345")) {
		t.Fatalf("price %s", price)
	}
}

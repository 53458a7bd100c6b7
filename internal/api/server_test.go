package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alert"
	"crypto-alerts/internal/evaluator"
	"crypto-alerts/internal/indicator"
	"crypto-alerts/internal/storage"
)

type stubEvaluator struct {
	out evaluator.Outcome
}

func (s stubEvaluator) Evaluate(context.Context, alert.Alert) evaluator.Outcome {
	return s.out
}

func newTestServer(t *testing.T, eval Evaluator) (*Server, *storage.FileStore, http.Handler) {
	t.Helper()
	store := storage.NewFileStore(filepath.Join(t.TempDir(), "alerts.json"), zerolog.Nop())
	srv := New(store, eval, Options{Mode: gin.TestMode}, zerolog.Nop())
	seq := 0
	srv.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	srv.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return srv, store, srv.Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestCreatePriceAlert(t *testing.T) {
	_, store, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/alerts", `{"symbol":"btc","price":50000,"operator":"<","description":"dip","triggers":[{"type":"bybit_action","action":"open_position","params":{"side":"Buy","qty":0.01}}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[alert.Record](t, rec)
	if got.ID != "id-1" || got.Symbol != "BTC" || got.Kind != alert.KindPriceSingle || got.Enabled == nil || !*got.Enabled {
		t.Fatalf("unexpected record %+v", got)
	}

	stored, err := store.GetAlert(context.Background(), "id-1")
	if err != nil {
		t.Fatalf("alert not stored: %v", err)
	}
	if !stored.Price.Threshold.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("threshold = %s", stored.Price.Threshold)
	}
}

func TestCreatePriceAlertValidation(t *testing.T) {
	_, _, h := newTestServer(t, nil)

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"bad operator", `{"symbol":"BTC","price":1,"operator":">=","description":"x"}`, "operator"},
		{"zero price", `{"symbol":"BTC","price":0,"operator":">","description":"x"}`, "price"},
		{"ratio missing leg", `{"type":"ratio","symbol1":"ETH","price":0.05,"operator":">","description":"x"}`, "symbol1"},
		{"open without qty", `{"symbol":"BTC","price":1,"operator":">","description":"x","triggers":[{"type":"bybit_action","action":"open_position","params":{"side":"Buy"}}]}`, "triggers.params"},
		{"unknown action", `{"symbol":"BTC","price":1,"operator":">","description":"x","triggers":[{"type":"bybit_action","action":"hedge"}]}`, "triggers.action"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/alerts", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
			}
			if got := decode[errorResponse](t, rec); got.Field != tc.field {
				t.Fatalf("field = %q, want %q (%s)", got.Field, tc.field, got.Error)
			}
		})
	}

	if rec := do(t, h, http.MethodPost, "/api/alerts", `{not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
}

func TestCreateIndicatorAlertDefaults(t *testing.T) {
	_, _, h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/api/indicator-alerts", `{"symbol":"eth","indicator_type":"rsi","config":{"timeframe":"1h"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[alert.Record](t, rec)
	if got.Config == nil || got.Config.Period != 14 || got.Config.OverboughtLevel != 70 || got.Config.Timeframe != alert.Timeframe1h {
		t.Fatalf("默认配置未生效: %+v", got.Config)
	}
	if len(got.Triggers) != 1 || got.Triggers[0].Type != alert.ActionTypeTelegram {
		t.Fatalf("expected default telegram trigger, got %+v", got.Triggers)
	}

	rec = do(t, h, http.MethodPost, "/api/indicator-alerts", `{"symbol":"eth","indicator_type":"rsi","config":{"period":60}}`)
	if rec.Code != http.StatusBadRequest || decode[errorResponse](t, rec).Field != "config.period" {
		t.Fatalf("period out of range accepted: %d %s", rec.Code, rec.Body.String())
	}
}

func TestListFilters(t *testing.T) {
	_, _, h := newTestServer(t, nil)
	do(t, h, http.MethodPost, "/api/alerts", `{"symbol":"BTC","price":1,"operator":">","description":"a"}`)
	do(t, h, http.MethodPost, "/api/alerts", `{"type":"ratio","symbol1":"ETH","symbol2":"BTC","price":0.05,"operator":">","description":"b"}`)
	do(t, h, http.MethodPost, "/api/indicator-alerts", `{"symbol":"SOL","indicator_type":"rsi","config":{},"enabled":false}`)

	cases := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?type=price", 2},
		{"?type=indicator", 1},
		{"?symbol=btc", 2},
		{"?enabled=true", 2},
		{"?enabled=false", 1},
	}
	for _, tc := range cases {
		rec := do(t, h, http.MethodGet, "/api/alerts"+tc.query, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", tc.query, rec.Code)
		}
		if got := decode[listResponse](t, rec); got.Count != tc.want || len(got.Alerts) != tc.want {
			t.Fatalf("%s count = %d, want %d", tc.query, got.Count, tc.want)
		}
	}

	if rec := do(t, h, http.MethodGet, "/api/alerts?type=volume", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown type status = %d", rec.Code)
	}
}

func TestLifecycleRoutes(t *testing.T) {
	_, store, h := newTestServer(t, nil)
	do(t, h, http.MethodPost, "/api/alerts", `{"symbol":"BTC","price":1,"operator":">","description":"a"}`)
	ctx := context.Background()

	if rec := do(t, h, http.MethodPost, "/api/alerts/id-1/disable", ""); rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d", rec.Code)
	}
	if a, _ := store.GetAlert(ctx, "id-1"); a.Status != alert.StatusDisabled {
		t.Fatalf("status = %s", a.Status)
	}
	if rec := do(t, h, http.MethodPost, "/api/alerts/id-1/rearm", ""); rec.Code != http.StatusConflict {
		t.Fatalf("rearm of unfired alert status = %d", rec.Code)
	}

	a, _ := store.GetAlert(ctx, "id-1")
	if err := store.UpdateAlert(ctx, a.Fire(time.Now())); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if rec := do(t, h, http.MethodPost, "/api/alerts/id-1/enable", ""); rec.Code != http.StatusConflict {
		t.Fatalf("已触发的告警需要先 rearm, status = %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/alerts/id-1/rearm", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("rearm status = %d", rec.Code)
	}
	if got := decode[alert.Record](t, rec); got.TriggeredDate != nil || got.Status != alert.StatusActive {
		t.Fatalf("rearm did not clear fired state: %+v", got)
	}

	if rec := do(t, h, http.MethodDelete, "/api/alerts/id-1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	for _, path := range []string{"/api/alerts/id-1", "/api/alerts/id-1/value"} {
		if rec := do(t, h, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodDelete, "/api/alerts/id-1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
}

func TestAlertValue(t *testing.T) {
	eval := stubEvaluator{out: evaluator.Outcome{
		Result:   evaluator.Fired,
		Crossing: evaluator.CrossedAboveOverbought,
		Sample:   indicator.Sample{Value: 72, PreviousValue: 68, HasPrevious: true, Trend: indicator.TrendRising},
	}}
	_, _, h := newTestServer(t, eval)
	do(t, h, http.MethodPost, "/api/indicator-alerts", `{"symbol":"BTC","indicator_type":"rsi","config":{}}`)

	rec := do(t, h, http.MethodGet, "/api/alerts/id-1/value", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[valueResponse](t, rec)
	if got.RSI == nil || got.RSI.Value != 72 || got.RSI.Zone != "overbought" || got.Crossing != evaluator.CrossedAboveOverbought {
		t.Fatalf("unexpected value %+v", got)
	}
}

func TestAlertValueUnavailable(t *testing.T) {
	eval := stubEvaluator{out: evaluator.Outcome{Result: evaluator.DataUnavailable, Err: errors.New("binance down")}}
	_, _, h := newTestServer(t, eval)
	do(t, h, http.MethodPost, "/api/alerts", `{"symbol":"BTC","price":1,"operator":">","description":"a"}`)

	rec := do(t, h, http.MethodGet, "/api/alerts/id-1/value", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[valueResponse](t, rec); got.Value != nil || !strings.Contains(got.Error, "binance down") {
		t.Fatalf("unexpected value %+v", got)
	}
}

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-alerts/internal/alert"
)

func newPriceAlert(id, symbol string) alert.Alert {
	return alert.Alert{
		ID:          id,
		Kind:        alert.KindPriceSingle,
		Description: "test",
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:      alert.StatusActive,
		Price:       &alert.PriceCondition{Symbol: symbol, Operator: alert.OpLess, Threshold: decimal.NewFromInt(50000)},
	}
}

func newRSIAlert(id string) alert.Alert {
	return alert.Alert{
		ID:        id,
		Kind:      alert.KindIndicatorRSI,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:    alert.StatusActive,
		Triggers:  []alert.ActionSpec{{Type: alert.ActionTypeTelegram, Message: "rsi"}},
		Indicator: &alert.IndicatorCondition{
			Symbol:        "ETH",
			IndicatorType: "rsi",
			Timeframe:     alert.Timeframe1h,
			Config:        alert.DefaultRSIConfig(),
		},
	}
}

func TestFileStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "alerts.json"), zerolog.Nop())

	if list, err := store.ListAlerts(ctx, AlertFilter{}); err != nil || len(list) != 0 {
		t.Fatalf("空文件应返回空列表: %v %v", list, err)
	}

	if err := store.CreateAlert(ctx, newPriceAlert("a1", "BTC")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateAlert(ctx, newRSIAlert("a2")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateAlert(ctx, newPriceAlert("a1", "BTC")); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate id should fail, got %v", err)
	}

	got, err := store.GetAlert(ctx, "a2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Indicator == nil || got.Indicator.Timeframe != alert.Timeframe1h || len(got.Triggers) != 1 {
		t.Fatalf("round trip lost data: %+v", got)
	}

	fired := newPriceAlert("a1", "BTC").Fire(time.Now())
	if err := store.UpdateAlert(ctx, fired); err != nil {
		t.Fatalf("update: %v", err)
	}
	active, err := store.ListAlerts(ctx, AlertFilter{Statuses: []alert.Status{alert.StatusActive}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != "a2" {
		t.Fatalf("fired alert should be filtered out: %+v", active)
	}

	if err := store.DeleteAlert(ctx, "a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetAlert(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateAlert(ctx, newPriceAlert("missing", "BTC")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreReadsLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	legacy := `[{"id":"x","type":"ratio","symbol1":"ETH","symbol2":"BTC","price":"0.05","operator":">","description":"eth/btc","triggers":[],"created_date":"2024-01-01T00:00:00Z","triggered_date":null}]`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	list, err := NewFileStore(path, zerolog.Nop()).ListAlerts(context.Background(), AlertFilter{Symbol: "BTC"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Kind != alert.KindPriceRatio || !list[0].Enabled() {
		t.Fatalf("旧格式记录解析失败: %+v", list)
	}
}

func TestFileStoreSkipsInvalidRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	content := `[
  {"id":"ok","type":"single","symbol":"BTC","price":"50000","operator":"<","triggers":[],"created_date":"2024-01-01T00:00:00Z"},
  {"id":"bad","type":"single","symbol":"BTC","operator":"<"}
]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := NewFileStore(path, zerolog.Nop())
	ctx := context.Background()

	list, err := store.ListAlerts(ctx, AlertFilter{})
	if err != nil {
		t.Fatalf("单条坏记录不应阻断读取: %v", err)
	}
	if len(list) != 1 || list[0].ID != "ok" {
		t.Fatalf("unexpected alerts %+v", list)
	}

	if err := store.CreateAlert(ctx, newPriceAlert("new", "ETH")); err != nil {
		t.Fatalf("create: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), `"bad"`) {
		t.Fatalf("invalid record dropped on rewrite:\n%s", raw)
	}
	if list, _ := store.ListAlerts(ctx, AlertFilter{}); len(list) != 2 {
		t.Fatalf("expected 2 valid alerts after create, got %d", len(list))
	}
}

func TestFileStoreRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	if err := os.WriteFile(path, []byte(`[{"id":"x",`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileStore(path, zerolog.Nop()).ListAlerts(context.Background(), AlertFilter{}); err == nil {
		t.Fatal("expected decode error for malformed file")
	}
}

func TestAlertFilterMatch(t *testing.T) {
	a := newRSIAlert("r")
	cases := []struct {
		filter AlertFilter
		want   bool
	}{
		{AlertFilter{}, true},
		{AlertFilter{Kinds: []alert.Kind{alert.KindIndicatorRSI}}, true},
		{AlertFilter{Kinds: []alert.Kind{alert.KindPriceSingle, alert.KindPriceRatio}}, false},
		{AlertFilter{Statuses: []alert.Status{alert.StatusFired}}, false},
		{AlertFilter{Symbol: "ETH"}, true},
		{AlertFilter{Symbol: "BTC"}, false},
	}
	for i, tc := range cases {
		if got := tc.filter.Match(a); got != tc.want {
			t.Fatalf("case %d: got %v want %v", i, got, tc.want)
		}
	}
}

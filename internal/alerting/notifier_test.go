package alerting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func sampleNote() Notification {
	return Notification{
		AlertID: "a-1",
		Kind:    "price_single",
		Title:   "BTC < 50000",
		Lines:   []string{"Current price: 49000"},
		Actions: []string{"telegram: ok"},
		FiredAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	var mu sync.Mutex
	var chats []string
	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		received := make(map[string]string)
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		mu.Lock()
		chats = append(chats, received["chat_id"])
		text = received["text"]
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", []string{"chat1", " chat2 ", ""}, srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if len(chats) != 2 || chats[0] != "chat1" || chats[1] != "chat2" {
		t.Fatalf("chat_id 不正确: %#v", chats)
	}
	if !strings.Contains(text, "BTC < 50000") || !strings.Contains(text, "- telegram: ok") {
		t.Fatalf("text 内容不完整: %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", []string{"chat"}, srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierNotConfigured(t *testing.T) {
	notifier := NewTelegramNotifier("", nil, "", time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("未配置 token 应报错")
	}
}

func TestRenderMessage(t *testing.T) {
	msg := RenderMessage(sampleNote())
	for _, want := range []string{"[Crypto Alert] BTC < 50000", "Current price: 49000", "Actions:", "Fired: 2024-05-01T12:00:00Z UTC", "ID: a-1"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("消息缺少 %q:\n%s", want, msg)
		}
	}
}

type recordingSender struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingSender) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func TestErrorHookForwardsErrorsOnly(t *testing.T) {
	sender := &recordingSender{}
	hook := NewErrorHook(sender, zerolog.ErrorLevel, "[cryptoalerts]")
	logger := zerolog.New(io.Discard).Hook(hook)

	logger.Info().Msg("routine")
	logger.Error().Msg("store down")
	hook.Close()
	hook.Close()
	logger.Error().Msg("after close")

	if len(sender.texts) != 1 || !strings.Contains(sender.texts[0], "store down") {
		t.Fatalf("只应转发 error 级别日志: %#v", sender.texts)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

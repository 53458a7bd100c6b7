package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TextSender delivers a raw text message.
type TextSender interface {
	Send(ctx context.Context, text string) error
}

// ErrorHook 将 error 及以上级别的日志异步转发到 Telegram。
type ErrorHook struct {
	sender  TextSender
	level   zerolog.Level
	prefix  string
	timeout time.Duration
	queue   chan string
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewErrorHook starts the forwarding goroutine. Messages are dropped when the queue is full.
func NewErrorHook(sender TextSender, level zerolog.Level, prefix string) *ErrorHook {
	if level == zerolog.NoLevel {
		level = zerolog.ErrorLevel
	}
	h := &ErrorHook{
		sender:  sender,
		level:   level,
		prefix:  prefix,
		timeout: 10 * time.Second,
		queue:   make(chan string, 64),
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

// Run implements zerolog.Hook.
func (h *ErrorHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if level < h.level || level == zerolog.NoLevel {
		return
	}
	text := fmt.Sprintf("%s %s - %s", h.prefix, level.String(), msg)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.queue <- text:
	default:
	}
}

// Close drains the queue and stops the goroutine.
func (h *ErrorHook) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.queue)
	h.mu.Unlock()
	<-h.done
}

func (h *ErrorHook) loop() {
	defer close(h.done)
	for text := range h.queue {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		// 发送失败不再记录日志, 避免递归。
		_ = h.sender.Send(ctx, text)
		cancel()
	}
}

var _ zerolog.Hook = (*ErrorHook)(nil)

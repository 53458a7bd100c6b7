package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notification 封装一次告警触发的推送内容。
type Notification struct {
	AlertID string
	Kind    string
	Title   string
	// Lines 为条件详情, 每行一条。
	Lines []string
	// Actions 为各触发动作的执行结果。
	Actions []string
	FiredAt time.Time
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatIDs  []string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器, 支持多个 chat。
func NewTelegramNotifier(botToken string, chatIDs []string, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	ids := make([]string, 0, len(chatIDs))
	for _, id := range chatIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatIDs:  ids,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 渲染并推送到所有 chat。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if err := n.Send(ctx, renderMessage(note)); err != nil {
		return err
	}
	n.logger.Info().Str("alert_id", note.AlertID).
		Str("kind", note.Kind).
		Int("chats", len(n.chatIDs)).
		Msg("告警已发送 (Telegram)")
	return nil
}

// Send 推送原始文本, 任一 chat 失败都会返回错误。
func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	if n.botToken == "" || len(n.chatIDs) == 0 {
		return errors.New("telegram bot token or chat id not configured")
	}

	var errs []error
	for _, chatID := range n.chatIDs {
		if err := n.sendOne(ctx, chatID, text); err != nil {
			errs = append(errs, fmt.Errorf("chat %s: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func (n *TelegramNotifier) sendOne(ctx context.Context, chatID, text string) error {
	payload := map[string]string{
		"chat_id": chatID,
		"text":    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}
	return nil
}

// LogNotifier 仅记录日志, 用于未配置 Telegram 或演练模式。
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier 构造日志告警器。
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify 将渲染后的消息写入日志。
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info().Str("alert_id", note.AlertID).Str("kind", note.Kind).Msg(renderMessage(note))
	return nil
}

// RenderMessage exposes the text layout for dry runs.
func RenderMessage(note Notification) string {
	return renderMessage(note)
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Crypto Alert] %s\n", note.Title))
	for _, line := range note.Lines {
		builder.WriteString(line)
		builder.WriteString("\n")
	}
	if len(note.Actions) > 0 {
		builder.WriteString("Actions:\n")
		for _, line := range note.Actions {
			builder.WriteString("- ")
			builder.WriteString(line)
			builder.WriteString("\n")
		}
	}
	if !note.FiredAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Fired: %s UTC\n", note.FiredAt.UTC().Format(time.RFC3339)))
	}
	if note.AlertID != "" {
		builder.WriteString(fmt.Sprintf("ID: %s", note.AlertID))
	}
	return strings.TrimRight(builder.String(), "\n")
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)

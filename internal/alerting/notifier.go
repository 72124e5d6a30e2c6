package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CostMove 描述单个化学体系的成本变动。
type CostMove struct {
	ChemistryID string
	From        time.Time
	To          time.Time
	FromCost    decimal.Decimal
	ToCost      decimal.Decimal
	ChangePct   decimal.Decimal
	Incomplete  bool
}

// Direction is "up" or "down".
func (m CostMove) Direction() string {
	if m.ChangePct.IsNegative() {
		return "down"
	}
	return "up"
}

// Notification 封装告警上下文。
type Notification struct {
	RunID         string
	GeneratedAt   time.Time
	ThresholdPct  decimal.Decimal
	Moves         []CostMove
	FallbackCount int
	RejectedCount int
	Channels      []string
	AdditionalMsg string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *resty.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	resp, err := n.client.R().SetContext(ctx).SetBody(payload).Post(url)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode())
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("run_id", note.RunID).
		Int("moves", len(note.Moves)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Battery Cost Alert]\n")
	builder.WriteString(fmt.Sprintf("Run: %s at %s UTC\n", note.RunID, note.GeneratedAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Threshold: %s%%\n", note.ThresholdPct.StringFixed(2)))
	for _, m := range note.Moves {
		line := fmt.Sprintf("%s %s: %s → %s USD/GWh (%s%%, %s)",
			m.ChemistryID,
			m.To.Format("2006-01"),
			m.FromCost.StringFixed(0),
			m.ToCost.StringFixed(0),
			m.ChangePct.StringFixed(2),
			m.Direction(),
		)
		if m.Incomplete {
			line += " [incomplete]"
		}
		builder.WriteString(line + "\n")
	}
	if note.FallbackCount > 0 {
		builder.WriteString(fmt.Sprintf("Linear fallback: %d materials\n", note.FallbackCount))
	}
	if note.RejectedCount > 0 {
		builder.WriteString(fmt.Sprintf("Rejected quotes: %d\n", note.RejectedCount))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)

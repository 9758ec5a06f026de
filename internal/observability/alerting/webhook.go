package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"OpenIntent-Chain/pkg/logger"
)

// WebhookNotifier 将事件以 JSON POST 到配置的回调地址，
// 可对接 Slack、钉钉等任意接收 webhook 的系统。
type WebhookNotifier struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhookNotifier 创建 webhook 通知器。
func NewWebhookNotifier(name, url string) *WebhookNotifier {
	return &WebhookNotifier{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Name 返回渠道名。
func (n *WebhookNotifier) Name() string {
	if n == nil || n.name == "" {
		return "webhook"
	}
	return n.name
}

type webhookPayload struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Severity    string            `json:"severity"`
	ExecutionID string            `json:"execution_id,omitempty"`
	PlanID      string            `json:"plan_id,omitempty"`
	IntentID    string            `json:"intent_id,omitempty"`
	StepID      string            `json:"step_id,omitempty"`
	Skill       string            `json:"skill,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Notify 发送 webhook 请求，非 2xx 状态码视为发送失败。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.url == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("execution_id", event.ExecutionID))
		return nil
	}
	body, err := json.Marshal(webhookPayload{
		Code:        string(event.Code),
		Message:     event.Message,
		Severity:    string(event.Severity),
		ExecutionID: event.ExecutionID,
		PlanID:      event.PlanID,
		IntentID:    event.IntentID,
		StepID:      event.StepID,
		Skill:       event.Skill,
		Metadata:    event.Metadata,
		OccurredAt:  event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("序列化告警载荷失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造 webhook 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 webhook 告警失败: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s 返回状态码 %d", n.Name(), resp.StatusCode)
	}
	return nil
}

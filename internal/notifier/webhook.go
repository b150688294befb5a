package notifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// defaultLineEndpoint LINE Notify API 地址
const defaultLineEndpoint = "https://notify-api.line.me/api/notify"

// WebhookMessenger HTTP Webhook 传输后端
// 通道 token 形如 "webhook:<url>"，告警以 JSON 体 POST 到目标地址
type WebhookMessenger struct {
	client *resty.Client
	logger *zap.Logger
}

// NewWebhookMessenger 创建 Webhook 传输后端
func NewWebhookMessenger(timeout time.Duration, logger *zap.Logger) *WebhookMessenger {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &WebhookMessenger{
		client: client,
		logger: logger,
	}
}

// Send POST 告警到 target 地址
func (w *WebhookMessenger) Send(ctx context.Context, target, message string, media []byte) error {
	body := map[string]string{"message": message}
	if len(media) > 0 {
		body["media"] = base64.StdEncoding.EncodeToString(media)
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(target)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	return nil
}

// LineMessenger LINE Notify 传输后端
// 通道 token 即 LINE Notify 的 Bearer token，可附带快照图片
type LineMessenger struct {
	client   *resty.Client
	endpoint string
	logger   *zap.Logger
}

// NewLineMessenger 创建 LINE Notify 传输后端；endpoint 为空时用官方地址
func NewLineMessenger(endpoint string, timeout time.Duration, logger *zap.Logger) *LineMessenger {
	if endpoint == "" {
		endpoint = defaultLineEndpoint
	}

	return &LineMessenger{
		client:   resty.New().SetTimeout(timeout),
		endpoint: endpoint,
		logger:   logger,
	}
}

// Send 以 target 为 Bearer token 发送通知
func (l *LineMessenger) Send(ctx context.Context, target, message string, media []byte) error {
	req := l.client.R().
		SetContext(ctx).
		SetAuthToken(target).
		SetFormData(map[string]string{"message": message})

	if len(media) > 0 {
		req = req.SetFileReader("imageFile", "snapshot.jpg", bytes.NewReader(media))
	}

	resp, err := req.Post(l.endpoint)
	if err != nil {
		return fmt.Errorf("line notify request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("line notify returned status %d", resp.StatusCode())
	}

	return nil
}

package notifier

import (
	"context"
	"strings"
)

// Messenger 消息传输能力接口
// 外部传输后端实现 send(目标, 消息, 可选快照) → 投递结果
type Messenger interface {
	Send(ctx context.Context, target, message string, media []byte) error
}

// 通道 token 格式决定传输后端:
//
//	mqtt:<topic>     → MQTT 发布
//	webhook:<url>    → HTTP Webhook
//	其它             → LINE Notify 风格的 Bearer token
const (
	SchemeMQTT    = "mqtt"
	SchemeWebhook = "webhook"
	SchemeLine    = "line"
)

// SplitToken 解析通道 token，返回后端 scheme 与投递目标
func SplitToken(token string) (scheme, target string) {
	if rest, ok := strings.CutPrefix(token, "mqtt:"); ok {
		return SchemeMQTT, rest
	}
	if rest, ok := strings.CutPrefix(token, "webhook:"); ok {
		return SchemeWebhook, rest
	}
	return SchemeLine, token
}

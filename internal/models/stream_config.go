package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// expireDateLayout 过期时间格式（本地时间，无时区）
const expireDateLayout = "2006-01-02T15:04:05"

// NotificationChannel 通知通道（token 决定传输后端，language 决定消息语言）
type NotificationChannel struct {
	Token    string `json:"token"`
	Language string `json:"language"`
}

// NotificationChannels 有序通道列表
// YAML 中写作 token -> language 的映射，按出现顺序保留
type NotificationChannels []NotificationChannel

// UnmarshalYAML 按 YAML 映射的书写顺序解析通道列表
func (n *NotificationChannels) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("notifications must be a mapping of token to language, got %s", value.Tag)
	}

	out := make(NotificationChannels, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		out = append(out, NotificationChannel{
			Token:    value.Content[i].Value,
			Language: value.Content[i+1].Value,
		})
	}
	*n = out
	return nil
}

// StreamConfig 单路视频流配置（加载后不可变，重载时整体替换）
type StreamConfig struct {
	VideoURL         string               `yaml:"video_url" json:"video_url"`
	Site             string               `yaml:"site" json:"site"`
	StreamName       string               `yaml:"stream_name" json:"stream_name"`
	ModelKey         string               `yaml:"model_key" json:"model_key"`
	DetectWithServer bool                 `yaml:"detect_with_server" json:"detect_with_server"`
	ExpireDate       string               `yaml:"expire_date,omitempty" json:"expire_date,omitempty"`
	Notifications    NotificationChannels `yaml:"notifications,omitempty" json:"notifications,omitempty"`
}

// StreamID 流标识（site + stream_name，同时是外部查看器的帧键）
func (c *StreamConfig) StreamID() string {
	return fmt.Sprintf("%s_%s", c.Site, c.StreamName)
}

// ExpiresAt 解析过期时间；未配置时 ok 为 false
func (c *StreamConfig) ExpiresAt() (time.Time, bool, error) {
	if c.ExpireDate == "" {
		return time.Time{}, false, nil
	}
	t, err := time.ParseInLocation(expireDateLayout, c.ExpireDate, time.Local)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid expire_date %q: %w", c.ExpireDate, err)
	}
	return t, true, nil
}

// Expired 配置在 now 时刻是否已过期
func (c *StreamConfig) Expired(now time.Time) bool {
	t, ok, err := c.ExpiresAt()
	if err != nil || !ok {
		return false
	}
	return now.After(t)
}

// Validate 校验配置；非法配置对应的流会被跳过，不影响其它流
func (c *StreamConfig) Validate() error {
	if strings.TrimSpace(c.VideoURL) == "" {
		return fmt.Errorf("video_url is required")
	}
	if strings.TrimSpace(c.Site) == "" {
		return fmt.Errorf("site is required")
	}
	if strings.TrimSpace(c.StreamName) == "" {
		return fmt.Errorf("stream_name is required")
	}

	if _, _, err := c.ExpiresAt(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Notifications))
	for _, ch := range c.Notifications {
		if ch.Token == "" {
			return fmt.Errorf("notification token must not be empty")
		}
		if seen[ch.Token] {
			return fmt.Errorf("duplicate notification token %q", ch.Token)
		}
		seen[ch.Token] = true
	}

	return nil
}

// Hash 配置指纹，用于重载时判断配置是否变化
func (c *StreamConfig) Hash() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%s|%v|%s|",
		c.VideoURL, c.Site, c.StreamName, c.ModelKey, c.DetectWithServer, c.ExpireDate)
	for _, ch := range c.Notifications {
		fmt.Fprintf(&b, "%s=%s|", ch.Token, ch.Language)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// DeliveryRecord 通知投递记录（限流依据）
// 以 (stream_id, channel_token, violation_kind) 为键
type DeliveryRecord struct {
	StreamID      string        `json:"stream_id"`
	ChannelToken  string        `json:"channel_token"`
	ViolationKind ViolationKind `json:"violation_kind"`
	LastSentAt    time.Time     `json:"last_sent_at"`
}

// DeliveryKey 限流键
func DeliveryKey(streamID, token string, kind ViolationKind) string {
	return fmt.Sprintf("%s:%s:%s", streamID, token, kind)
}

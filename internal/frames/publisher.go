package frames

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Publisher 处理后帧的 Redis Streams 发布器
// 每路流一个 stream 键（即 stream_id，形如 <site>_<stream_name>），
// MAXLEN 近似裁剪只保留最近若干帧，供外部查看器消费。
// 发布失败只记日志，不影响流水线。
type Publisher struct {
	client *redis.Client
	maxLen int64
	logger *zap.Logger
}

// NewPublisher 创建帧发布器
func NewPublisher(client *redis.Client, maxLen int64, logger *zap.Logger) *Publisher {
	if maxLen <= 0 {
		maxLen = 10
	}
	return &Publisher{
		client: client,
		maxLen: maxLen,
		logger: logger,
	}
}

// Publish 发布一帧到流的 Redis Stream
func (p *Publisher) Publish(ctx context.Context, streamID string, frame []byte) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamID,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"frame": frame},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish frame to stream %s: %w", streamID, err)
	}
	return nil
}

// Delete 删除流对应的 Redis Stream 键（流从配置移除时调用）
func (p *Publisher) Delete(ctx context.Context, streamID string) error {
	if err := p.client.Del(ctx, streamID).Err(); err != nil {
		return fmt.Errorf("failed to delete frame stream %s: %w", streamID, err)
	}
	return nil
}

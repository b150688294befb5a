package notifier

import (
	"context"
	"fmt"
	"time"

	"hazard-watch/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisStore Redis 投递记录表（多进程部署共享限流状态）
// 键格式: <prefix><stream_id>:<token>:<kind>，值为 RFC3339Nano 时间戳
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisStore 创建 Redis 投递记录表
// ttl 建议设为冷却间隔的 2 倍，过期自然清理；0 表示不过期
func NewRedisStore(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

func (s *RedisStore) key(streamID, token string, kind models.ViolationKind) string {
	return s.keyPrefix + models.DeliveryKey(streamID, token, kind)
}

// Last 查询投递记录
func (s *RedisStore) Last(ctx context.Context, streamID, token string, kind models.ViolationKind) (*models.DeliveryRecord, error) {
	val, err := s.client.Get(ctx, s.key(streamID, token, kind)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get delivery record: %w", err)
	}

	lastSentAt, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return nil, fmt.Errorf("corrupt delivery record %q: %w", val, err)
	}

	return &models.DeliveryRecord{
		StreamID:      streamID,
		ChannelToken:  token,
		ViolationKind: kind,
		LastSentAt:    lastSentAt,
	}, nil
}

// MarkSent 更新最近投递时间（不回退已有的更新时间）
func (s *RedisStore) MarkSent(ctx context.Context, streamID, token string, kind models.ViolationKind, at time.Time) error {
	existing, err := s.Last(ctx, streamID, token, kind)
	if err != nil {
		return err
	}
	if existing != nil && existing.LastSentAt.After(at) {
		return nil
	}

	err = s.client.Set(ctx, s.key(streamID, token, kind), at.Format(time.RFC3339Nano), s.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set delivery record: %w", err)
	}
	return nil
}

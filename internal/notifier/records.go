package notifier

import (
	"context"
	"sync"
	"time"

	"hazard-watch/internal/models"
)

// RecordStore 投递记录存储（限流依据）
// 约定：按键查询 + 条件写入；时间戳按键单调不减。
// 单进程部署用内存实现即可；多进程部署可换 Redis 或 Postgres 实现。
// 通过构造注入 Dispatcher，测试可替换为可控时钟的假实现。
type RecordStore interface {
	// Last 查询投递记录；不存在时返回 nil
	Last(ctx context.Context, streamID, token string, kind models.ViolationKind) (*models.DeliveryRecord, error)
	// MarkSent 更新最近投递时间（不回退已有的更新时间）
	MarkSent(ctx context.Context, streamID, token string, kind models.ViolationKind, at time.Time) error
}

// MemoryStore 进程内投递记录表
// Dispatcher 是唯一消费者，互斥锁仅为防御并发测试访问
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.DeliveryRecord
}

// NewMemoryStore 创建内存投递记录表
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]models.DeliveryRecord),
	}
}

// Last 查询投递记录
func (s *MemoryStore) Last(_ context.Context, streamID, token string, kind models.ViolationKind) (*models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[models.DeliveryKey(streamID, token, kind)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// MarkSent 更新最近投递时间（时间戳只前进不后退）
func (s *MemoryStore) MarkSent(_ context.Context, streamID, token string, kind models.ViolationKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.DeliveryKey(streamID, token, kind)
	if existing, ok := s.records[key]; ok && existing.LastSentAt.After(at) {
		return nil
	}

	s.records[key] = models.DeliveryRecord{
		StreamID:      streamID,
		ChannelToken:  token,
		ViolationKind: kind,
		LastSentAt:    at,
	}
	return nil
}

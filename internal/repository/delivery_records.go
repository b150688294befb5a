package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hazard-watch/internal/models"

	"go.uber.org/zap"
)

// DeliveryRecordRepository Postgres 投递记录表
// 多进程部署时共享限流状态；实现 notifier.RecordStore 约定
// （按键查询 + 条件写入，时间戳按键单调不减）
type DeliveryRecordRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeliveryRecordRepository 创建投递记录仓库
func NewDeliveryRecordRepository(db *sql.DB, logger *zap.Logger) *DeliveryRecordRepository {
	return &DeliveryRecordRepository{
		db:     db,
		logger: logger,
	}
}

// Last 查询投递记录；不存在时返回 nil
func (r *DeliveryRecordRepository) Last(ctx context.Context, streamID, token string, kind models.ViolationKind) (*models.DeliveryRecord, error) {
	query := `
		SELECT stream_id, channel_token, violation_kind, last_sent_at
		FROM delivery_records
		WHERE stream_id = $1 AND channel_token = $2 AND violation_kind = $3
	`

	var rec models.DeliveryRecord
	err := r.db.QueryRowContext(ctx, query, streamID, token, string(kind)).Scan(
		&rec.StreamID,
		&rec.ChannelToken,
		&rec.ViolationKind,
		&rec.LastSentAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query delivery record: %w", err)
	}

	return &rec, nil
}

// MarkSent UPSERT 最近投递时间；已有记录的时间戳不回退
func (r *DeliveryRecordRepository) MarkSent(ctx context.Context, streamID, token string, kind models.ViolationKind, at time.Time) error {
	query := `
		INSERT INTO delivery_records (stream_id, channel_token, violation_kind, last_sent_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stream_id, channel_token, violation_kind)
		DO UPDATE SET last_sent_at = EXCLUDED.last_sent_at
		WHERE delivery_records.last_sent_at < EXCLUDED.last_sent_at
	`

	_, err := r.db.ExecContext(ctx, query, streamID, token, string(kind), at)
	if err != nil {
		return fmt.Errorf("failed to upsert delivery record: %w", err)
	}
	return nil
}

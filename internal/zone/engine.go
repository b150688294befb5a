package zone

import (
	"sync/atomic"
	"time"

	"hazard-watch/internal/models"

	"go.uber.org/zap"
)

// Engine 单路流的限制区域引擎
// 聚类开销高于逐帧违规判定，且锥桶位置近乎静态，
// 因此按配置节奏（每 K 帧或每 T 时间）重算，期间沿用上一个区域集。
// 写入方仅为所属流任务，读取方通过 Zones 取快照，整体原子替换。
type Engine struct {
	streamID        string
	clusterer       Clusterer
	recomputeFrames int
	recomputeEvery  time.Duration
	logger          *zap.Logger
	now             func() time.Time

	zones        atomic.Value // []models.Zone
	frameCount   int
	lastComputed time.Time
}

// NewEngine 创建区域引擎
func NewEngine(streamID string, clusterer Clusterer, recomputeFrames int, recomputeEvery time.Duration, logger *zap.Logger) *Engine {
	e := &Engine{
		streamID:        streamID,
		clusterer:       clusterer,
		recomputeFrames: recomputeFrames,
		recomputeEvery:  recomputeEvery,
		logger:          logger,
		now:             time.Now,
	}
	e.zones.Store([]models.Zone{})
	return e
}

// Zones 当前区域集快照
func (e *Engine) Zones() []models.Zone {
	return e.zones.Load().([]models.Zone)
}

// Observe 喂入一帧；到达重算节奏时从锥桶检测重建区域集
func (e *Engine) Observe(frame *models.Frame) {
	e.frameCount++

	due := e.lastComputed.IsZero() ||
		(e.recomputeFrames > 0 && e.frameCount%e.recomputeFrames == 0) ||
		(e.recomputeEvery > 0 && e.now().Sub(e.lastComputed) >= e.recomputeEvery)
	if !due {
		return
	}

	e.Recompute(frame)
}

// Recompute 立即从帧中的锥桶检测重算区域集（整体替换）
func (e *Engine) Recompute(frame *models.Frame) {
	computedAt := e.now()

	cones := frame.DetectionsByLabel(models.LabelCone)
	points := make([]models.Point, 0, len(cones))
	for _, c := range cones {
		// 底边中点作为地面位置近似
		points = append(points, c.Box.BottomCenter())
	}

	// 无锥桶或全部为噪声 → 空区域集，不是错误
	zones := []models.Zone{}
	for _, cluster := range e.clusterer.Cluster(points) {
		if len(cluster) < 3 {
			continue
		}
		hull := ConvexHull(cluster)
		if hull == nil {
			continue
		}
		zones = append(zones, models.Zone{
			StreamID:   e.streamID,
			Polygon:    hull,
			ComputedAt: computedAt,
		})
	}

	e.zones.Store(zones)
	e.lastComputed = computedAt

	e.logger.Debug("Recomputed restricted zones",
		zap.String("stream_id", e.streamID),
		zap.Int("cones", len(points)),
		zap.Int("zones", len(zones)),
	)
}

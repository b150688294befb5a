package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"hazard-watch/internal/capture"
	"hazard-watch/internal/detector"
	"hazard-watch/internal/frames"
	"hazard-watch/internal/inference"
	"hazard-watch/internal/models"
	"hazard-watch/internal/zone"

	"go.uber.org/zap"
)

// 流任务状态机：Starting → Running → (Expired | Failed | Stopped)
// Failed 与 Stopped 对该任务实例是终态，配置重载会创建全新任务
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateExpired  = "expired"
	StateFailed   = "failed"
	StateStopped  = "stopped"
)

// FrameSink 处理后帧的发布出口（供外部查看器消费）
type FrameSink interface {
	Publish(ctx context.Context, streamID string, frame []byte) error
}

// TaskOptions 任务运行参数
type TaskOptions struct {
	ConnectRetries int           // 源连接重试上限
	ConnectBackoff time.Duration // 源连接重试初始退避（指数增长）
}

// Task 单路流任务
// 独立拥有取帧循环、推理调用、区域引擎与违规判定；
// 任一任务的失败或过期不影响其它流
type Task struct {
	cfg      models.StreamConfig
	source   capture.Source
	infer    inference.Detector
	zones    *zone.Engine
	detector *detector.Detector
	events   chan<- models.ViolationEvent
	frames   FrameSink // 可为 nil
	opts     TaskOptions
	logger   *zap.Logger
	now      func() time.Time

	state atomic.Value
}

// NewTask 创建流任务
func NewTask(
	cfg models.StreamConfig,
	source capture.Source,
	infer inference.Detector,
	zones *zone.Engine,
	det *detector.Detector,
	events chan<- models.ViolationEvent,
	frames FrameSink,
	opts TaskOptions,
	logger *zap.Logger,
) *Task {
	t := &Task{
		cfg:      cfg,
		source:   source,
		infer:    infer,
		zones:    zones,
		detector: det,
		events:   events,
		frames:   frames,
		opts:     opts,
		logger: logger.With(
			zap.String("stream_id", cfg.StreamID()),
			zap.String("site", cfg.Site),
		),
		now: time.Now,
	}
	t.state.Store(StateStarting)
	return t
}

// State 当前任务状态
func (t *Task) State() string {
	return t.state.Load().(string)
}

func (t *Task) setState(state string) {
	t.state.Store(state)
	t.logger.Info("Stream task state changed",
		zap.String("state", state),
	)
}

// Run 执行任务直到终态；阻塞调用，由管理器在独立 goroutine 中运行
func (t *Task) Run(ctx context.Context) {
	expiresAt, hasExpiry, err := t.cfg.ExpiresAt()
	if err != nil {
		// 配置在启动前已校验过，此处仅防御性兜底
		t.logger.Error("Invalid expire_date", zap.Error(err))
		t.setState(StateFailed)
		return
	}

	// 启动时已过期的任务不进入 Running
	if hasExpiry && t.now().After(expiresAt) {
		t.setState(StateExpired)
		return
	}

	if !t.connect(ctx) {
		return
	}
	defer t.source.Close()

	t.setState(StateRunning)

	for {
		select {
		case <-ctx.Done():
			t.setState(StateStopped)
			return
		default:
		}

		// 每帧检查过期时间
		if hasExpiry && t.now().After(expiresAt) {
			t.setState(StateExpired)
			return
		}

		raw, err := t.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.setState(StateStopped)
				return
			}
			// 中途断流按可恢复处理：重连后继续
			t.logger.Warn("Frame read failed, reconnecting",
				zap.Error(err),
			)
			t.source.Close()
			if !t.connect(ctx) {
				return
			}
			continue
		}

		if !t.processFrame(ctx, raw) {
			return
		}
	}
}

// connect 带指数退避的源连接；重试耗尽转 Failed，取消转 Stopped
// 返回 false 表示任务已进入终态
func (t *Task) connect(ctx context.Context) bool {
	backoff := t.opts.ConnectBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			t.setState(StateStopped)
			return false
		}

		err := t.source.Open(ctx)
		if err == nil {
			return true
		}

		t.logger.Warn("Source connection failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt >= t.opts.ConnectRetries {
			t.setState(StateFailed)
			return false
		}

		select {
		case <-ctx.Done():
			t.setState(StateStopped)
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// processFrame 单帧处理：推理 → 区域 → 违规 → 事件入队 → 帧发布
// 返回 false 表示任务已进入终态
func (t *Task) processFrame(ctx context.Context, raw capture.RawFrame) bool {
	detections, err := t.infer.Detect(ctx, raw.Data)
	if err != nil {
		if errors.Is(err, inference.ErrPermanent) {
			t.logger.Error("Inference capability reported permanent failure",
				zap.Error(err),
			)
			t.setState(StateFailed)
			return false
		}
		// 瞬时推理失败：跳过该帧，流继续
		t.logger.Warn("Inference failed, skipping frame",
			zap.Error(err),
		)
		return true
	}

	frame := &models.Frame{
		StreamID:   t.cfg.StreamID(),
		Timestamp:  raw.Timestamp,
		Detections: detections,
	}

	t.zones.Observe(frame)
	zones := t.zones.Zones()
	events := t.detector.Evaluate(frame, zones)

	// 查看器与通知快照共用标注帧；标注失败回退原始帧
	display := raw.Data
	if t.frames != nil || len(events) > 0 {
		annotated, err := frames.Annotate(raw.Data, detections, zones)
		if err != nil {
			t.logger.Warn("Failed to annotate frame",
				zap.Error(err),
			)
		} else {
			display = annotated
		}
	}

	for i := range events {
		events[i].Snapshot = display

		select {
		case t.events <- events[i]:
		case <-ctx.Done():
			t.setState(StateStopped)
			return false
		}
	}

	if t.frames != nil {
		if err := t.frames.Publish(ctx, t.cfg.StreamID(), display); err != nil {
			t.logger.Warn("Failed to publish processed frame",
				zap.Error(err),
			)
		}
	}
	return true
}

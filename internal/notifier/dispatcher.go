package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hazard-watch/internal/models"

	"go.uber.org/zap"
)

// 投递失败的有界重试
const (
	sendRetries      = 3
	sendRetryBackoff = time.Second
)

// Options Dispatcher 配置
type Options struct {
	Cooldown        time.Duration // 同键通知冷却间隔
	DefaultLanguage string        // 模板缺失时的回退语言
	// 通知时段（小时，本地时间）；Start<0 表示不启用时段门控。
	// 启用时：工作时段内发送常规违规，管制区闯入仅在时段外发送
	// （时段内工地有人属正常，夜间闯入才是异常）。
	HourStart int
	HourEnd   int
}

// Dispatcher 通知分发器
// 所有流任务产生的违规事件经单一通道汇入，由单一消费者循环处理；
// 同一流的事件保持产生顺序，跨流顺序不保证。
// 投递记录表是唯一的持久状态变更。
type Dispatcher struct {
	store      RecordStore
	transports map[string]Messenger // 按 token scheme
	opts       Options
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.RWMutex
	configs map[string]models.StreamConfig // stream_id → 配置
}

// NewDispatcher 创建通知分发器
func NewDispatcher(store RecordStore, transports map[string]Messenger, opts Options, logger *zap.Logger) *Dispatcher {
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	return &Dispatcher{
		store:      store,
		transports: transports,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
		configs:    make(map[string]models.StreamConfig),
	}
}

// SetConfigs 更新流配置索引（重载时整体替换）
func (d *Dispatcher) SetConfigs(configs []models.StreamConfig) {
	index := make(map[string]models.StreamConfig, len(configs))
	for _, cfg := range configs {
		index[cfg.StreamID()] = cfg
	}

	d.mu.Lock()
	d.configs = index
	d.mu.Unlock()
}

// Run 消费事件通道直到通道关闭或上下文取消
func (d *Dispatcher) Run(ctx context.Context, events <-chan models.ViolationEvent) {
	d.logger.Info("Notification dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Notification dispatcher stopped")
			return
		case ev, ok := <-events:
			if !ok {
				d.logger.Info("Event channel closed, dispatcher exiting")
				return
			}
			d.Dispatch(ctx, ev)
		}
	}
}

// Dispatch 处理单条违规事件：限流 → 本地化 → 投递 → 记录结果
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.ViolationEvent) {
	d.mu.RLock()
	cfg, ok := d.configs[ev.StreamID]
	d.mu.RUnlock()

	if !ok || len(cfg.Notifications) == 0 {
		d.logger.Debug("No notification channels for stream",
			zap.String("stream_id", ev.StreamID),
		)
		return
	}

	now := d.now()
	if !d.withinNotifyWindow(ev.Kind, now) {
		return
	}

	for _, channel := range cfg.Notifications {
		d.dispatchToChannel(ctx, cfg, channel, ev, now)
	}
}

// withinNotifyWindow 通知时段门控
// 时段内发送常规违规；管制区闯入仅在时段外发送
func (d *Dispatcher) withinNotifyWindow(kind models.ViolationKind, now time.Time) bool {
	if d.opts.HourStart < 0 {
		return true
	}

	hour := now.Hour()
	working := hour >= d.opts.HourStart && hour < d.opts.HourEnd
	if kind == models.ViolationZoneIntrusion {
		return !working
	}
	return working
}

// dispatchToChannel 单个通道的限流检查与投递
func (d *Dispatcher) dispatchToChannel(ctx context.Context, cfg models.StreamConfig, channel models.NotificationChannel, ev models.ViolationEvent, now time.Time) {
	rec, err := d.store.Last(ctx, ev.StreamID, channel.Token, ev.Kind)
	if err != nil {
		// 存储不可用时宁可抑制也不冒通知风暴的风险
		d.logger.Error("Failed to read delivery record",
			zap.String("stream_id", ev.StreamID),
			zap.Error(err),
		)
		return
	}

	// 冷却期内静默抑制（持续危害下的正常稳态行为）
	if rec != nil && now.Sub(rec.LastSentAt) < d.opts.Cooldown {
		d.logger.Debug("Notification suppressed by cooldown",
			zap.String("stream_id", ev.StreamID),
			zap.String("kind", string(ev.Kind)),
		)
		return
	}

	// 先更新记录再投递：投递失败也不回滚，
	// 宁可漏发一条也不要在瞬时故障恢复后形成通知风暴
	if err := d.store.MarkSent(ctx, ev.StreamID, channel.Token, ev.Kind, now); err != nil {
		d.logger.Error("Failed to update delivery record",
			zap.String("stream_id", ev.StreamID),
			zap.Error(err),
		)
		return
	}

	message := FormatMessage(cfg.StreamName, ev, channel.Language, d.opts.DefaultLanguage)

	if err := d.send(ctx, channel.Token, message, ev.Snapshot); err != nil {
		d.logger.Error("Notification delivery failed",
			zap.String("stream_id", ev.StreamID),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err),
		)
		return
	}

	d.logger.Info("Notification sent",
		zap.String("stream_id", ev.StreamID),
		zap.String("kind", string(ev.Kind)),
		zap.String("language", channel.Language),
	)
}

// send 经 token scheme 对应的传输后端投递，瞬时失败带退避重试
func (d *Dispatcher) send(ctx context.Context, token, message string, media []byte) error {
	scheme, target := SplitToken(token)
	messenger, ok := d.transports[scheme]
	if !ok {
		return fmt.Errorf("no transport configured for scheme %q", scheme)
	}

	backoff := sendRetryBackoff
	var lastErr error
	for attempt := 1; attempt <= sendRetries; attempt++ {
		lastErr = messenger.Send(ctx, target, message, media)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}

		if attempt < sendRetries {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("delivery failed after %d attempts: %w", sendRetries, lastErr)
}

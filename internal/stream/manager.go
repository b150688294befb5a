package stream

import (
	"context"
	"sync"
	"time"

	"hazard-watch/internal/models"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// TaskFactory 由装配层注入的任务构造器（便于测试替换）
type TaskFactory func(cfg models.StreamConfig) (*Task, error)

// runningTask 管理器内部的运行中任务记录
type runningTask struct {
	task       *Task
	cancel     context.CancelFunc
	configHash string
	done       chan struct{}
}

// Manager 流任务管理器
// 以 video_url 为键持有运行中任务；配置重载按"整体替换后求差"处理：
// 新增的启动、移除或变更的停止、过期的跳过，任务间完全独立
type Manager struct {
	factory TaskFactory
	logger  *zap.Logger

	mu      sync.Mutex
	running map[string]*runningTask
}

// NewManager 创建流任务管理器
func NewManager(factory TaskFactory, logger *zap.Logger) *Manager {
	return &Manager{
		factory: factory,
		logger:  logger,
		running: make(map[string]*runningTask),
	}
}

// Apply 应用一组完整的流配置（重载即全量替换）
func (m *Manager) Apply(ctx context.Context, configs []models.StreamConfig) {
	now := time.Now()
	current := lo.SliceToMap(configs, func(c models.StreamConfig) (string, models.StreamConfig) {
		return c.VideoURL, c
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	// 停止已移除或配置变更的任务
	for url, rt := range m.running {
		cfg, ok := current[url]
		switch {
		case !ok:
			m.logger.Info("Stopping removed stream", zap.String("video_url", url))
			m.stopLocked(url, rt)
		case cfg.Hash() != rt.configHash:
			m.logger.Info("Config changed, restarting stream", zap.String("video_url", url))
			m.stopLocked(url, rt)
		case cfg.Expired(now):
			m.logger.Info("Stopping expired stream", zap.String("video_url", url))
			m.stopLocked(url, rt)
		}
	}

	// 启动新增的任务
	for url, cfg := range current {
		if _, ok := m.running[url]; ok {
			continue
		}
		if cfg.Expired(now) {
			m.logger.Info("Skipping expired stream config",
				zap.String("video_url", url),
			)
			continue
		}
		m.startLocked(ctx, url, cfg)
	}
}

// startLocked 启动单个流任务（需持有 m.mu）
func (m *Manager) startLocked(ctx context.Context, url string, cfg models.StreamConfig) {
	task, err := m.factory(cfg)
	if err != nil {
		// 该流跳过，其它流不受影响
		m.logger.Error("Failed to create stream task",
			zap.String("video_url", url),
			zap.Error(err),
		)
		return
	}

	childCtx, cancel := context.WithCancel(ctx)
	rt := &runningTask{
		task:       task,
		cancel:     cancel,
		configHash: cfg.Hash(),
		done:       make(chan struct{}),
	}
	m.running[url] = rt

	m.logger.Info("Launching stream task",
		zap.String("video_url", url),
		zap.String("stream_id", cfg.StreamID()),
	)

	go func() {
		task.Run(childCtx)
		// 先关 done 再取锁：stopLocked 持锁等待 done
		close(rt.done)

		m.mu.Lock()
		if m.running[url] == rt {
			delete(m.running, url)
		}
		m.mu.Unlock()

		m.logger.Info("Stream task finished",
			zap.String("video_url", url),
			zap.String("state", task.State()),
		)
	}()
}

// stopLocked 取消单个任务并等待其退出（需持有 m.mu）
func (m *Manager) stopLocked(url string, rt *runningTask) {
	rt.cancel()
	delete(m.running, url)

	// 有界宽限期内等待任务释放源连接、停止入队
	select {
	case <-rt.done:
	case <-time.After(5 * time.Second):
		m.logger.Warn("Stream task did not stop within grace period",
			zap.String("video_url", url),
		)
	}
}

// StopAll 停止全部任务
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for url, rt := range m.running {
		m.stopLocked(url, rt)
	}
}

// States 各运行中任务的状态快照（按 video_url）
func (m *Manager) States() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]string, len(m.running))
	for url, rt := range m.running {
		states[url] = rt.task.State()
	}
	return states
}

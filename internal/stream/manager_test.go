package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hazard-watch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testHarness 管理器测试装置：每个工厂调用都挂一个阻塞到取消的假源
type testHarness struct {
	mu      sync.Mutex
	created []string // 工厂被调用的 video_url 顺序
	events  chan models.ViolationEvent
}

func newTestHarness() *testHarness {
	return &testHarness{events: make(chan models.ViolationEvent, 64)}
}

func (h *testHarness) factory(cfg models.StreamConfig) (*Task, error) {
	h.mu.Lock()
	h.created = append(h.created, cfg.VideoURL)
	h.mu.Unlock()
	return newTestTask(cfg, &fakeSource{frames: 0}, &fakeDetector{}, h.events), nil
}

func (h *testHarness) createdCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.created)
}

func managerConfig(url, name string) models.StreamConfig {
	return models.StreamConfig{
		VideoURL:   url,
		Site:       "site-a",
		StreamName: name,
	}
}

func waitRunning(t *testing.T, m *Manager, url string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.States()[url] == StateRunning
	}, time.Second, 5*time.Millisecond)
}

func TestManager_ApplyStartsNewStreams(t *testing.T) {
	h := newTestHarness()
	m := NewManager(h.factory, zap.NewNop())
	defer m.StopAll()

	m.Apply(context.Background(), []models.StreamConfig{
		managerConfig("rtsp://x/1", "cam1"),
		managerConfig("rtsp://x/2", "cam2"),
	})

	waitRunning(t, m, "rtsp://x/1")
	waitRunning(t, m, "rtsp://x/2")
	assert.Equal(t, 2, h.createdCount())
}

func TestManager_ApplyIsIdempotentForUnchangedConfigs(t *testing.T) {
	h := newTestHarness()
	m := NewManager(h.factory, zap.NewNop())
	defer m.StopAll()

	configs := []models.StreamConfig{managerConfig("rtsp://x/1", "cam1")}
	m.Apply(context.Background(), configs)
	waitRunning(t, m, "rtsp://x/1")

	m.Apply(context.Background(), configs)

	// 配置未变不重建任务
	assert.Equal(t, 1, h.createdCount())
}

func TestManager_ApplyStopsRemovedStreams(t *testing.T) {
	h := newTestHarness()
	m := NewManager(h.factory, zap.NewNop())
	defer m.StopAll()

	m.Apply(context.Background(), []models.StreamConfig{
		managerConfig("rtsp://x/1", "cam1"),
		managerConfig("rtsp://x/2", "cam2"),
	})
	waitRunning(t, m, "rtsp://x/1")
	waitRunning(t, m, "rtsp://x/2")

	m.Apply(context.Background(), []models.StreamConfig{
		managerConfig("rtsp://x/1", "cam1"),
	})

	states := m.States()
	assert.Contains(t, states, "rtsp://x/1")
	assert.NotContains(t, states, "rtsp://x/2")
}

func TestManager_ApplyRestartsChangedConfig(t *testing.T) {
	h := newTestHarness()
	m := NewManager(h.factory, zap.NewNop())
	defer m.StopAll()

	m.Apply(context.Background(), []models.StreamConfig{managerConfig("rtsp://x/1", "cam1")})
	waitRunning(t, m, "rtsp://x/1")

	changed := managerConfig("rtsp://x/1", "cam1")
	changed.ModelKey = "yolo11x"
	m.Apply(context.Background(), []models.StreamConfig{changed})
	waitRunning(t, m, "rtsp://x/1")

	// 变更配置 → 停旧任务、起全新任务
	assert.Equal(t, 2, h.createdCount())
}

func TestManager_ApplySkipsExpiredConfigs(t *testing.T) {
	h := newTestHarness()
	m := NewManager(h.factory, zap.NewNop())
	defer m.StopAll()

	expired := managerConfig("rtsp://x/1", "cam1")
	expired.ExpireDate = "2020-01-01T00:00:00"
	m.Apply(context.Background(), []models.StreamConfig{expired})

	assert.Zero(t, h.createdCount())
	assert.Empty(t, m.States())
}

func TestManager_FactoryErrorSkipsStream(t *testing.T) {
	h := newTestHarness()
	factory := func(cfg models.StreamConfig) (*Task, error) {
		if cfg.VideoURL == "rtsp://x/bad" {
			return nil, errors.New("no capture backend")
		}
		return h.factory(cfg)
	}
	m := NewManager(factory, zap.NewNop())
	defer m.StopAll()

	m.Apply(context.Background(), []models.StreamConfig{
		managerConfig("rtsp://x/bad", "cam1"),
		managerConfig("rtsp://x/1", "cam2"),
	})

	// 单流失败不影响其它流
	waitRunning(t, m, "rtsp://x/1")
	assert.NotContains(t, m.States(), "rtsp://x/bad")
}

func TestManager_StopAll(t *testing.T) {
	h := newTestHarness()
	m := NewManager(h.factory, zap.NewNop())

	m.Apply(context.Background(), []models.StreamConfig{
		managerConfig("rtsp://x/1", "cam1"),
		managerConfig("rtsp://x/2", "cam2"),
	})
	waitRunning(t, m, "rtsp://x/1")
	waitRunning(t, m, "rtsp://x/2")

	m.StopAll()

	assert.Empty(t, m.States())
}

func TestManager_FinishedTaskRemovedFromStates(t *testing.T) {
	h := newTestHarness()
	factory := func(cfg models.StreamConfig) (*Task, error) {
		// 连接必败 → 任务很快进入 Failed 终态
		return newTestTask(cfg, &fakeSource{
			openErrs: []error{errors.New("refused"), errors.New("refused")},
		}, &fakeDetector{}, h.events), nil
	}
	m := NewManager(factory, zap.NewNop())

	m.Apply(context.Background(), []models.StreamConfig{managerConfig("rtsp://x/1", "cam1")})

	require.Eventually(t, func() bool {
		return len(m.States()) == 0
	}, time.Second, 5*time.Millisecond)
}

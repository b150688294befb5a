package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hazard-watch/internal/capture"
	"hazard-watch/internal/detector"
	"hazard-watch/internal/inference"
	"hazard-watch/internal/models"
	"hazard-watch/internal/zone"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSource 可编程视频源
type fakeSource struct {
	mu       sync.Mutex
	openErrs []error // 每次 Open 依次返回；耗尽后成功
	frames   int     // 成功读取的帧数上限，之后 Read 阻塞到 ctx 取消
	opened   int
	reads    int
	closed   int
}

func (s *fakeSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	if len(s.openErrs) > 0 {
		err := s.openErrs[0]
		s.openErrs = s.openErrs[1:]
		return err
	}
	return nil
}

func (s *fakeSource) Read(ctx context.Context) (capture.RawFrame, error) {
	s.mu.Lock()
	s.reads++
	remaining := s.frames - s.reads
	s.mu.Unlock()

	if remaining < 0 {
		<-ctx.Done()
		return capture.RawFrame{}, ctx.Err()
	}
	return capture.RawFrame{Data: []byte("jpeg"), Timestamp: time.Now()}, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// fakeDetector 可编程推理后端
type fakeDetector struct {
	detections []models.Detection
	errs       []error // 每次 Detect 依次返回；耗尽后成功
	mu         sync.Mutex
	calls      int
}

func (d *fakeDetector) Detect(ctx context.Context, image []byte) ([]models.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return d.detections, nil
}

func personDetection() models.Detection {
	return models.Detection{
		Label:      models.LabelPerson,
		Box:        models.BBox{X1: 0, Y1: 0, X2: 100, Y2: 200},
		Confidence: 0.9,
	}
}

func testStreamConfig(url string) models.StreamConfig {
	return models.StreamConfig{
		VideoURL:   url,
		Site:       "site-a",
		StreamName: "cam1",
	}
}

func newTestTask(cfg models.StreamConfig, src capture.Source, infer inference.Detector, events chan models.ViolationEvent) *Task {
	logger := zap.NewNop()
	zones := zone.NewEngine(cfg.StreamID(), &zone.DBSCAN{Eps: 50, MinPoints: 3}, 10, 0, logger)
	det := detector.New(cfg.Site, detector.DefaultThresholds(), 0, logger)
	return NewTask(cfg, src, infer, zones, det, events, nil,
		TaskOptions{ConnectRetries: 2, ConnectBackoff: time.Millisecond}, logger)
}

func TestTask_ExpiredBeforeStart(t *testing.T) {
	cfg := testStreamConfig("rtsp://x/1")
	cfg.ExpireDate = "2020-01-01T00:00:00"

	src := &fakeSource{}
	events := make(chan models.ViolationEvent, 16)
	task := newTestTask(cfg, src, &fakeDetector{}, events)

	task.Run(context.Background())

	// 不进入 Running，不连接源，不产生事件
	assert.Equal(t, StateExpired, task.State())
	assert.Zero(t, src.opened)
	assert.Empty(t, events)
}

func TestTask_ExpiresMidRun(t *testing.T) {
	cfg := testStreamConfig("rtsp://x/1")
	cfg.ExpireDate = "2030-06-01T12:00:00"

	src := &fakeSource{frames: 100}
	task := newTestTask(cfg, src, &fakeDetector{}, make(chan models.ViolationEvent, 16))

	// 第三帧起时钟越过过期时间
	var ticks int
	base := time.Date(2030, 6, 1, 11, 59, 59, 0, time.Local)
	task.now = func() time.Time {
		ticks++
		if ticks > 3 {
			return base.Add(2 * time.Second)
		}
		return base
	}

	task.Run(context.Background())

	assert.Equal(t, StateExpired, task.State())
	assert.GreaterOrEqual(t, src.closed, 1, "source released on expiry")
}

func TestTask_ConnectRetriesExhausted(t *testing.T) {
	src := &fakeSource{
		openErrs: []error{errors.New("refused"), errors.New("refused"), errors.New("refused")},
	}
	task := newTestTask(testStreamConfig("rtsp://x/1"), src, &fakeDetector{}, make(chan models.ViolationEvent, 16))

	task.Run(context.Background())

	assert.Equal(t, StateFailed, task.State())
	assert.Equal(t, 2, src.opened, "stops at retry limit")
}

func TestTask_CancelWhileRunning(t *testing.T) {
	src := &fakeSource{frames: 0} // 首次 Read 即阻塞
	task := newTestTask(testStreamConfig("rtsp://x/1"), src, &fakeDetector{}, make(chan models.ViolationEvent, 16))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		task.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return task.State() == StateRunning }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not stop after cancel")
	}
	assert.Equal(t, StateStopped, task.State())
}

func TestTask_PermanentInferenceFailure(t *testing.T) {
	src := &fakeSource{frames: 5}
	infer := &fakeDetector{errs: []error{fmt.Errorf("model not found: %w", inference.ErrPermanent)}}
	task := newTestTask(testStreamConfig("rtsp://x/1"), src, infer, make(chan models.ViolationEvent, 16))

	task.Run(context.Background())

	assert.Equal(t, StateFailed, task.State())
	assert.Equal(t, 1, infer.calls)
}

func TestTask_TransientInferenceFailureSkipsFrame(t *testing.T) {
	src := &fakeSource{frames: 3}
	infer := &fakeDetector{errs: []error{errors.New("timeout")}}
	events := make(chan models.ViolationEvent, 16)
	task := newTestTask(testStreamConfig("rtsp://x/1"), src, infer, events)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// 三帧读完后 Read 阻塞，由取消收尾
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	task.Run(ctx)

	assert.Equal(t, StateStopped, task.State())
	assert.Equal(t, 3, infer.calls, "stream continues past transient failure")
}

func TestTask_EmitsViolationEvents(t *testing.T) {
	src := &fakeSource{frames: 2}
	infer := &fakeDetector{detections: []models.Detection{
		personDetection(),
		{Label: models.LabelMachinery, Box: models.BBox{X1: 120, Y1: 0, X2: 300, Y2: 200}, Confidence: 0.8},
	}}
	events := make(chan models.ViolationEvent, 16)
	task := newTestTask(testStreamConfig("rtsp://x/1"), src, infer, events)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	task.Run(ctx)

	require.GreaterOrEqual(t, len(events), 1)
	ev := <-events
	assert.Equal(t, models.ViolationNearMachinery, ev.Kind)
	assert.Equal(t, "site-a_cam1", ev.StreamID)
	assert.Equal(t, "site-a", ev.Site)
	assert.NotEmpty(t, ev.EventID)
	// 快照随事件携带；假帧无法标注时回退原始字节
	assert.Equal(t, []byte("jpeg"), ev.Snapshot)
}

func TestTask_ReconnectsAfterReadFailure(t *testing.T) {
	src := &reconnectSource{inner: &fakeSource{frames: 0}}
	task := newTestTask(testStreamConfig("rtsp://x/1"), src, &fakeDetector{}, make(chan models.ViolationEvent, 16))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	task.Run(ctx)

	assert.Equal(t, StateStopped, task.State())
	assert.GreaterOrEqual(t, src.inner.opened, 2, "reopened after broken read")
}

// reconnectSource 首次 Read 断流、之后委托内层源
type reconnectSource struct {
	inner  *fakeSource
	failed bool
}

func (s *reconnectSource) Open(ctx context.Context) error { return s.inner.Open(ctx) }

func (s *reconnectSource) Read(ctx context.Context) (capture.RawFrame, error) {
	if !s.failed {
		s.failed = true
		return capture.RawFrame{}, capture.ErrStreamEnded
	}
	return s.inner.Read(ctx)
}

func (s *reconnectSource) Close() error { return s.inner.Close() }

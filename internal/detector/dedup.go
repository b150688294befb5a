package detector

import (
	"fmt"
	"time"

	"hazard-watch/internal/models"
)

// dedupWindow track 级去重窗口
// 同一 (track_id, 违规类型) 在窗口内只放行一次，在事件进入
// 通知限流之前先收敛事件量；无 track_id 的事件不做去重。
// 以帧时间为基准，不依赖墙钟。
type dedupWindow struct {
	window   time.Duration
	lastEmit map[string]time.Time
}

func newDedupWindow(window time.Duration) *dedupWindow {
	if window <= 0 {
		return nil
	}
	return &dedupWindow{
		window:   window,
		lastEmit: make(map[string]time.Time),
	}
}

// allow 事件是否放行；放行时记录发射时间
func (w *dedupWindow) allow(ev models.ViolationEvent) bool {
	if ev.TrackID == nil {
		return true
	}

	key := fmt.Sprintf("%d:%s", *ev.TrackID, ev.Kind)
	if last, ok := w.lastEmit[key]; ok && ev.DetectedAt.Sub(last) < w.window {
		return false
	}

	w.lastEmit[key] = ev.DetectedAt
	w.prune(ev.DetectedAt)
	return true
}

// prune 清理窗口外的历史记录，防止长时间运行下 map 无界增长
func (w *dedupWindow) prune(now time.Time) {
	if len(w.lastEmit) < 1024 {
		return
	}
	for key, t := range w.lastEmit {
		if now.Sub(t) >= w.window {
			delete(w.lastEmit, key)
		}
	}
}

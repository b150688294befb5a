package detector

import (
	"time"

	"hazard-watch/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Thresholds 违规判定阈值
type Thresholds struct {
	Overlap   float64 // PPE 匹配的最小 IoU
	Proximity float64 // 接近判定的最大距离（像素）
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		Overlap:   0.3,
		Proximity: 100,
	}
}

// Detector 单路流的违规判定器
// 规则评估本身是纯函数；仅 track 级去重窗口持有状态
type Detector struct {
	site       string
	thresholds Thresholds
	dedup      *dedupWindow
	logger     *zap.Logger
}

// New 创建违规判定器；dedupWindow<=0 时关闭 track 级去重
func New(site string, thresholds Thresholds, dedupWindow time.Duration, logger *zap.Logger) *Detector {
	return &Detector{
		site:       site,
		thresholds: thresholds,
		dedup:      newDedupWindow(dedupWindow),
		logger:     logger,
	}
}

// Evaluate 对一帧检测结果和当前区域集做违规判定
// 空结果是正常情况；退化几何一律按"不匹配"处理，从不报错
func (d *Detector) Evaluate(frame *models.Frame, zones []models.Zone) []models.ViolationEvent {
	events := EvaluateFrame(frame, zones, d.thresholds)

	if d.dedup != nil {
		filtered := events[:0]
		for _, ev := range events {
			if d.dedup.allow(ev) {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	for i := range events {
		events[i].EventID = uuid.New().String()
		events[i].Site = d.site
	}

	if len(events) > 0 {
		d.logger.Debug("Frame produced violations",
			zap.String("stream_id", frame.StreamID),
			zap.Int("count", len(events)),
		)
	}
	return events
}

// EvaluateFrame 纯函数形式的规则评估（不含去重、不含事件ID）
// 各规则独立评估，同一主体同一帧可产生多条事件
func EvaluateFrame(frame *models.Frame, zones []models.Zone, th Thresholds) []models.ViolationEvent {
	// 退化的 person 框按"无主体"处理，不参与任何规则
	var persons []models.Detection
	for _, d := range frame.DetectionsByLabel(models.LabelPerson) {
		if d.Box.Area() > 0 {
			persons = append(persons, d)
		}
	}
	if len(persons) == 0 {
		return nil
	}

	var events []models.ViolationEvent
	events = append(events, evaluatePPE(frame, persons, th)...)
	events = append(events, evaluateProximity(frame, persons, th)...)
	events = append(events, evaluateIntrusion(frame, persons, zones)...)
	return events
}

package detector

import (
	"hazard-watch/internal/models"
)

// ppe 违规标签与对应的合规标签、违规类型
var ppeRules = []struct {
	violation models.Label
	compliant models.Label
	kind      models.ViolationKind
}{
	{models.LabelNoHardhat, models.LabelHardhat, models.ViolationNoHardhat},
	{models.LabelNoVest, models.LabelVest, models.ViolationNoVest},
}

// evaluatePPE PPE 合规检查
// 对每个 person，找与其重叠度最高的违规类检测（no-hardhat/no-vest）；
// 若同一 person 上合规类检测（hardhat/vest）的重叠度更高，则不判违规。
// 没有任何 PPE 类检测与 person 重叠时不构成违规。
func evaluatePPE(frame *models.Frame, persons []models.Detection, th Thresholds) []models.ViolationEvent {
	var events []models.ViolationEvent

	for _, rule := range ppeRules {
		violations := frame.DetectionsByLabel(rule.violation)
		if len(violations) == 0 {
			continue
		}
		compliants := frame.DetectionsByLabel(rule.compliant)

		for _, person := range persons {
			best := bestOverlap(person.Box, violations, th.Overlap)
			if best <= 0 {
				continue
			}
			// 合规检测重叠度更高 → 以合规为准
			if bestOverlap(person.Box, compliants, th.Overlap) > best {
				continue
			}

			events = append(events, models.ViolationEvent{
				StreamID:   frame.StreamID,
				Kind:       rule.kind,
				TrackID:    person.TrackID,
				Box:        person.Box,
				DetectedAt: frame.Timestamp,
				Severity:   models.SeverityWarning,
			})
		}
	}

	return events
}

// bestOverlap person 与候选检测间的最大重叠度；低于阈值时返回 0
// 重叠度用 IoU；IoU 不达标但候选中心点落在 person 框内时按阈值计。
// 退化的候选框按"不匹配"处理，不走中心点兜底
func bestOverlap(person models.BBox, candidates []models.Detection, threshold float64) float64 {
	best := 0.0
	for _, c := range candidates {
		if c.Box.Area() == 0 {
			continue
		}
		score := person.IoU(c.Box)
		if score < threshold && contains(person, c.Box.Centroid()) {
			score = threshold
		}
		if score >= threshold && score > best {
			best = score
		}
	}
	return best
}

func contains(b models.BBox, p models.Point) bool {
	return p.X >= b.X1 && p.X <= b.X2 && p.Y >= b.Y1 && p.Y <= b.Y2
}

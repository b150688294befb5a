package detector

import (
	"math"

	"hazard-watch/internal/models"
)

var proximityRules = []struct {
	hazard models.Label
	kind   models.ViolationKind
}{
	{models.LabelMachinery, models.ViolationNearMachinery},
	{models.LabelVehicle, models.ViolationNearVehicle},
}

// evaluateProximity 接近危险判定
// 对每个 person 计算到任一 machinery/vehicle 的最小距离，
// 低于阈值时分别产生 near-machinery / near-vehicle 事件。
// 严重程度随距离减小而提高：不足阈值一半时升级为 ALERT。
func evaluateProximity(frame *models.Frame, persons []models.Detection, th Thresholds) []models.ViolationEvent {
	if th.Proximity <= 0 {
		return nil
	}

	var events []models.ViolationEvent
	for _, rule := range proximityRules {
		hazards := frame.DetectionsByLabel(rule.hazard)
		if len(hazards) == 0 {
			continue
		}

		for _, person := range persons {
			minDist := math.Inf(1)
			for _, h := range hazards {
				if h.Box.Area() == 0 {
					continue
				}
				if dist := person.Box.MinDistance(h.Box); dist < minDist {
					minDist = dist
				}
			}
			if minDist >= th.Proximity {
				continue
			}

			severity := models.SeverityWarning
			if minDist < th.Proximity/2 {
				severity = models.SeverityAlert
			}

			dist := minDist
			events = append(events, models.ViolationEvent{
				StreamID:   frame.StreamID,
				Kind:       rule.kind,
				TrackID:    person.TrackID,
				Box:        person.Box,
				DetectedAt: frame.Timestamp,
				Severity:   severity,
				Distance:   &dist,
			})
		}
	}

	return events
}

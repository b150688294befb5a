package detector

import (
	"hazard-watch/internal/models"
)

// evaluateIntrusion 限制区域闯入判定
// person 中心点落在任一区域多边形内即产生 zone-intrusion 事件，
// 每个 (person, zone) 对每次评估恰好产生一条事件。
// 退化区域（顶点 <3）由 Zone.Contains 自然判为不包含。
func evaluateIntrusion(frame *models.Frame, persons []models.Detection, zones []models.Zone) []models.ViolationEvent {
	if len(zones) == 0 {
		return nil
	}

	var events []models.ViolationEvent
	for _, person := range persons {
		centroid := person.Box.Centroid()
		for _, z := range zones {
			if !z.Contains(centroid) {
				continue
			}
			events = append(events, models.ViolationEvent{
				StreamID:   frame.StreamID,
				Kind:       models.ViolationZoneIntrusion,
				TrackID:    person.TrackID,
				Box:        person.Box,
				DetectedAt: frame.Timestamp,
				Severity:   models.SeverityAlert,
			})
		}
	}
	return events
}

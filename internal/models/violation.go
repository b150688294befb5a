package models

import "time"

// ViolationKind 违规类型
type ViolationKind string

const (
	ViolationNoHardhat     ViolationKind = "no-hardhat"
	ViolationNoVest        ViolationKind = "no-vest"
	ViolationNearMachinery ViolationKind = "near-machinery"
	ViolationNearVehicle   ViolationKind = "near-vehicle"
	ViolationZoneIntrusion ViolationKind = "zone-intrusion"
)

// 告警级别（与报警服务保持一致的级别命名）
const (
	SeverityAlert   = "ALERT"
	SeverityWarning = "WARNING"
)

// ViolationEvent 单条违规事件
type ViolationEvent struct {
	EventID    string        `json:"event_id"`
	StreamID   string        `json:"stream_id"`
	Site       string        `json:"site"`
	Kind       ViolationKind `json:"kind"`
	TrackID    *int64        `json:"track_id,omitempty"`
	Box        BBox          `json:"box"`
	DetectedAt time.Time     `json:"detected_at"`
	Severity   string        `json:"severity"`

	// Distance 仅接近类事件填写（像素单位）
	Distance *float64 `json:"distance,omitempty"`

	// Snapshot 触发帧的标注快照（JPEG），随通知附带；不参与序列化
	Snapshot []byte `json:"-"`
}

// Zone 限制区域多边形（由安全锥聚类得出）
type Zone struct {
	StreamID   string    `json:"stream_id"`
	Polygon    []Point   `json:"polygon"`
	ComputedAt time.Time `json:"computed_at"`
}

// Contains 点是否在多边形内（射线法；顶点数 <3 时恒为 false）
func (z Zone) Contains(p Point) bool {
	n := len(z.Polygon)
	if n < 3 {
		return false
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		a, b := z.Polygon[i], z.Polygon[j]
		if (a.Y > p.Y) != (b.Y > p.Y) &&
			p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
		j = i
	}
	return inside
}

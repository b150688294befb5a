package models

import (
	"math"
	"time"
)

// Label 检测类别标签
type Label string

const (
	LabelPerson    Label = "person"
	LabelHardhat   Label = "hardhat"
	LabelNoHardhat Label = "no-hardhat"
	LabelMask      Label = "mask"
	LabelNoMask    Label = "no-mask"
	LabelVest      Label = "vest"
	LabelNoVest    Label = "no-vest"
	LabelCone      Label = "cone"
	LabelMachinery Label = "machinery"
	LabelVehicle   Label = "vehicle"
)

var validLabels = map[Label]bool{
	LabelPerson:    true,
	LabelHardhat:   true,
	LabelNoHardhat: true,
	LabelMask:      true,
	LabelNoMask:    true,
	LabelVest:      true,
	LabelNoVest:    true,
	LabelCone:      true,
	LabelMachinery: true,
	LabelVehicle:   true,
}

// Valid 检查标签是否为已知类别
func (l Label) Valid() bool {
	return validLabels[l]
}

// Point 帧像素坐标点
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist 两点欧氏距离
func (p Point) Dist(o Point) float64 {
	dx := p.X - o.X
	dy := p.Y - o.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// BBox 检测框（xyxy 像素坐标）
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width 框宽度
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height 框高度
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area 框面积（退化框返回 0）
func (b BBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Centroid 框中心点
func (b BBox) Centroid() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// BottomCenter 框底边中点（地面投影近似）
func (b BBox) BottomCenter() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: b.Y2}
}

// IoU 两框交并比（任一框退化时返回 0）
func (b BBox) IoU(o BBox) float64 {
	if b.Area() == 0 || o.Area() == 0 {
		return 0
	}

	ix1 := math.Max(b.X1, o.X1)
	iy1 := math.Max(b.Y1, o.Y1)
	ix2 := math.Min(b.X2, o.X2)
	iy2 := math.Min(b.Y2, o.Y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	return inter / (b.Area() + o.Area() - inter)
}

// MinDistance 两框边界间最小欧氏距离（相交时为 0）
func (b BBox) MinDistance(o BBox) float64 {
	dx := math.Max(0, math.Max(o.X1-b.X2, b.X1-o.X2))
	dy := math.Max(0, math.Max(o.Y1-b.Y2, b.Y1-o.Y2))
	return math.Sqrt(dx*dx + dy*dy)
}

// Detection 单个检测结果
type Detection struct {
	Label      Label   `json:"label"`
	Box        BBox    `json:"box"`
	Confidence float64 `json:"confidence"`
	TrackID    *int64  `json:"track_id,omitempty"`
}

// Frame 单帧检测结果（仅在流水线处理窗口内存在，不落盘）
type Frame struct {
	StreamID   string      `json:"stream_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Detections []Detection `json:"detections"`
}

// DetectionsByLabel 按标签过滤检测结果
func (f *Frame) DetectionsByLabel(label Label) []Detection {
	var out []Detection
	for _, d := range f.Detections {
		if d.Label == label {
			out = append(out, d)
		}
	}
	return out
}

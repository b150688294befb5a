package frames

import (
	"fmt"
	"image"
	"image/color"

	"hazard-watch/internal/models"

	"gocv.io/x/gocv"
)

// 标注配色：合规绿、违规红、危险源橙、区域黄、其它灰
var (
	colorCompliant = color.RGBA{R: 0, G: 200, B: 0, A: 0}
	colorViolation = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	colorHazard    = color.RGBA{R: 255, G: 165, B: 0, A: 0}
	colorZone      = color.RGBA{R: 255, G: 255, B: 0, A: 0}
	colorNeutral   = color.RGBA{R: 200, G: 200, B: 200, A: 0}
)

func labelColor(label models.Label) color.RGBA {
	switch label {
	case models.LabelNoHardhat, models.LabelNoMask, models.LabelNoVest:
		return colorViolation
	case models.LabelHardhat, models.LabelMask, models.LabelVest:
		return colorCompliant
	case models.LabelMachinery, models.LabelVehicle:
		return colorHazard
	default:
		return colorNeutral
	}
}

// Annotate 在帧上绘制检测框与限制区域多边形，返回重编码的 JPEG
// 供查看器与通知快照使用；绘制失败由调用方回退到原始帧
func Annotate(frame []byte, detections []models.Detection, zones []models.Zone) ([]byte, error) {
	mat, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("decoded frame is empty")
	}

	for _, z := range zones {
		pts := make([]image.Point, 0, len(z.Polygon))
		for _, p := range z.Polygon {
			pts = append(pts, image.Pt(int(p.X), int(p.Y)))
		}
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
		err = gocv.Polylines(&mat, pv, true, colorZone, 2)
		pv.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to draw zone polygon: %w", err)
		}
	}

	for _, d := range detections {
		c := labelColor(d.Label)
		rect := image.Rect(int(d.Box.X1), int(d.Box.Y1), int(d.Box.X2), int(d.Box.Y2))
		if err = gocv.Rectangle(&mat, rect, c, 2); err != nil {
			return nil, fmt.Errorf("failed to draw detection box: %w", err)
		}

		text := fmt.Sprintf("%s (%.2f)", d.Label, d.Confidence)
		pt := image.Pt(int(d.Box.X1), int(d.Box.Y1)-5)
		if err = gocv.PutText(&mat, text, pt, gocv.FontHersheySimplex, 0.5, c, 1); err != nil {
			return nil, fmt.Errorf("failed to draw detection label: %w", err)
		}
	}

	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode annotated frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

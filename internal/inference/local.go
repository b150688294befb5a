package inference

import (
	"context"
	"fmt"
	goimage "image"
	"sync"

	"hazard-watch/internal/models"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const localConfidenceFloor = 0.5

// 本地模型输出的类别编号 → 标签
var localClassLabels = map[int]models.Label{
	0: models.LabelPerson,
	1: models.LabelHardhat,
	2: models.LabelNoHardhat,
	3: models.LabelMask,
	4: models.LabelNoMask,
	5: models.LabelVest,
	6: models.LabelNoVest,
	7: models.LabelCone,
	8: models.LabelMachinery,
	9: models.LabelVehicle,
}

// LocalDetector 进程内 DNN 推理
// 网络句柄非并发安全，多流共享同一实例时串行推理
type LocalDetector struct {
	net    gocv.Net
	logger *zap.Logger
	mu     sync.Mutex
}

// NewLocalDetector 加载本地模型
// 模型文件缺失或加载失败属永久错误，不做重试
func NewLocalDetector(modelPath, configPath string, logger *zap.Logger) (*LocalDetector, error) {
	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model %s: %w", modelPath, ErrPermanent)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		return nil, fmt.Errorf("failed to set network backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		return nil, fmt.Errorf("failed to set network target: %w", err)
	}

	logger.Info("Local detection model loaded",
		zap.String("model_path", modelPath),
	)

	return &LocalDetector{
		net:    net,
		logger: logger,
	}, nil
}

// Detect 解码 JPEG 帧并执行本地推理
func (d *LocalDetector) Detect(ctx context.Context, image []byte) ([]models.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.IMDecode(image, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("decoded frame is empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, goimage.Pt(640, 640), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	imgW := float64(mat.Cols())
	imgH := float64(mat.Rows())

	// 输出为 [image_id, class_id, confidence, x1, y1, x2, y2] 七元组序列
	var detections []models.Detection
	for i := 0; i+6 < output.Total(); i += 7 {
		confidence := float64(output.GetFloatAt(0, i+2))
		if confidence < localConfidenceFloor {
			continue
		}

		classID := int(output.GetFloatAt(0, i+1))
		label, ok := localClassLabels[classID]
		if !ok {
			continue
		}

		detections = append(detections, models.Detection{
			Label: label,
			Box: models.BBox{
				X1: float64(output.GetFloatAt(0, i+3)) * imgW,
				Y1: float64(output.GetFloatAt(0, i+4)) * imgH,
				X2: float64(output.GetFloatAt(0, i+5)) * imgW,
				Y2: float64(output.GetFloatAt(0, i+6)) * imgH,
			},
			Confidence: confidence,
		})
	}

	return detections, nil
}

// Close 释放网络句柄
func (d *LocalDetector) Close() error {
	return d.net.Close()
}

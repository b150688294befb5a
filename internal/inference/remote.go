package inference

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"hazard-watch/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// remoteDetection 远程检测 API 的单条返回
type remoteDetection struct {
	Label      string  `json:"label"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	TrackID    *int64  `json:"track_id,omitempty"`
}

// RemoteDetector 远程推理客户端
// 瞬时失败（网络错误、5xx）由 resty 带退避重试；4xx 视为永久失败
type RemoteDetector struct {
	client   *resty.Client
	modelKey string
	logger   *zap.Logger
}

// NewRemoteDetector 创建远程推理客户端
func NewRemoteDetector(apiURL, modelKey string, timeout time.Duration, maxRetries int, logger *zap.Logger) *RemoteDetector {
	client := resty.New().
		SetBaseURL(apiURL).
		SetTimeout(timeout).
		SetRetryCount(maxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &RemoteDetector{
		client:   client,
		modelKey: modelKey,
		logger:   logger,
	}
}

// Detect 将 JPEG 帧发送到检测 API，返回检测列表
func (d *RemoteDetector) Detect(ctx context.Context, image []byte) ([]models.Detection, error) {
	var result []remoteDetection

	resp, err := d.client.R().
		SetContext(ctx).
		SetFileReader("file", "frame.jpg", bytes.NewReader(image)).
		SetFormData(map[string]string{"model": d.modelKey}).
		SetResult(&result).
		Post("/detect")

	if err != nil {
		return nil, fmt.Errorf("detection request failed: %w", err)
	}

	code := resp.StatusCode()
	switch {
	case code >= 400 && code < 500:
		return nil, fmt.Errorf("detection api rejected request (status %d): %w", code, ErrPermanent)
	case code != 200:
		return nil, fmt.Errorf("detection api returned status %d", code)
	}

	detections := make([]models.Detection, 0, len(result))
	for _, r := range result {
		label := models.Label(r.Label)
		if !label.Valid() {
			d.logger.Debug("Skipping unknown detection label",
				zap.String("label", r.Label),
			)
			continue
		}
		detections = append(detections, models.Detection{
			Label:      label,
			Box:        models.BBox{X1: r.X1, Y1: r.Y1, X2: r.X2, Y2: r.Y2},
			Confidence: r.Confidence,
			TrackID:    r.TrackID,
		})
	}

	return detections, nil
}

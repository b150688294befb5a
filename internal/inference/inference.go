package inference

import (
	"context"
	"errors"

	"hazard-watch/internal/models"
)

// ErrPermanent 推理能力明确报告的不可恢复错误
// 调用方据此停止重试并将流标记为 Failed
var ErrPermanent = errors.New("permanent inference failure")

// Detector 推理能力接口：一帧图像进，检测列表出
// 本地与远程实现遵守相同的超时与错误约定
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]models.Detection, error)
}

// Close 可选的资源释放接口（本地模型持有网络句柄）
type Closer interface {
	Close() error
}

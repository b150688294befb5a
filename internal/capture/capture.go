package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ErrStreamEnded 源正常或异常终止（可恢复：重连后继续）
var ErrStreamEnded = errors.New("stream ended")

// RawFrame 采集到的一帧原始图像（JPEG 编码）
type RawFrame struct {
	Data      []byte
	Timestamp time.Time
}

// Source 视频源能力接口
// 连接失败与中途断流都按可恢复处理，由调用方带退避重试
type Source interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (RawFrame, error)
	Close() error
}

// VideoSource 基于 OpenCV VideoCapture 的视频源
// 按配置的取帧间隔节流，帧间多余的解码帧被丢弃（保持实时性）
type VideoSource struct {
	url      string
	interval time.Duration
	logger   *zap.Logger

	cap      *gocv.VideoCapture
	lastRead time.Time
}

// NewVideoSource 创建视频源
func NewVideoSource(url string, interval time.Duration, logger *zap.Logger) *VideoSource {
	return &VideoSource{
		url:      url,
		interval: interval,
		logger:   logger,
	}
}

// Open 建立源连接
func (v *VideoSource) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cap, err := gocv.OpenVideoCapture(v.url)
	if err != nil {
		return fmt.Errorf("failed to open video source %s: %w", v.url, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("video source %s not opened", v.url)
	}

	v.cap = cap
	v.logger.Info("Video source opened",
		zap.String("url", v.url),
	)
	return nil
}

// Read 读取下一帧（JPEG）；受取帧间隔节流
func (v *VideoSource) Read(ctx context.Context) (RawFrame, error) {
	if v.cap == nil {
		return RawFrame{}, fmt.Errorf("video source not opened")
	}

	// 取帧节流
	if wait := v.interval - time.Since(v.lastRead); wait > 0 {
		select {
		case <-ctx.Done():
			return RawFrame{}, ctx.Err()
		case <-time.After(wait):
		}
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := v.cap.Read(&mat); !ok || mat.Empty() {
		return RawFrame{}, fmt.Errorf("read from %s: %w", v.url, ErrStreamEnded)
	}

	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return RawFrame{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	v.lastRead = time.Now()
	return RawFrame{Data: data, Timestamp: v.lastRead}, nil
}

// Close 释放源连接
func (v *VideoSource) Close() error {
	if v.cap == nil {
		return nil
	}
	err := v.cap.Close()
	v.cap = nil
	return err
}

package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"hazard-watch/internal/models"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadStreamConfigs 从 YAML 文件加载流配置列表
// 非法条目记录错误后跳过，不影响其它流
func LoadStreamConfigs(path string, logger *zap.Logger) ([]models.StreamConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream config file: %w", err)
	}

	var raw []models.StreamConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse stream config file: %w", err)
	}

	valid := make([]models.StreamConfig, 0, len(raw))
	for i, sc := range raw {
		if err := sc.Validate(); err != nil {
			logger.Error("Skipping invalid stream config",
				zap.Int("index", i),
				zap.String("video_url", sc.VideoURL),
				zap.Error(err),
			)
			continue
		}
		valid = append(valid, sc)
	}

	return valid, nil
}

// StreamConfigFileHash 流配置文件内容指纹（用于重载轮询判断是否变化）
func StreamConfigFileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

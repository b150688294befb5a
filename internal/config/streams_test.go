package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeStreamFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streams.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadStreamConfigs(t *testing.T) {
	path := writeStreamFile(t, `
- video_url: rtsp://example.com/s1
  site: site-a
  stream_name: cam1
  model_key: yolo11n
  detect_with_server: true
  notifications:
    tok-line-aaa: zh-TW
    "mqtt:alerts/site-a": en
- video_url: rtsp://example.com/s2
  site: site-a
  stream_name: cam2
  expire_date: "2099-12-31T23:59:59"
`)

	configs, err := LoadStreamConfigs(path, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, configs, 2)

	assert.Equal(t, "site-a_cam1", configs[0].StreamID())
	assert.True(t, configs[0].DetectWithServer)
	require.Len(t, configs[0].Notifications, 2)
	assert.Equal(t, "tok-line-aaa", configs[0].Notifications[0].Token)

	assert.Equal(t, "2099-12-31T23:59:59", configs[1].ExpireDate)
}

func TestLoadStreamConfigs_SkipsInvalidEntries(t *testing.T) {
	path := writeStreamFile(t, `
- video_url: ""
  site: site-a
  stream_name: cam1
- video_url: rtsp://example.com/s2
  site: site-a
  stream_name: cam2
- video_url: rtsp://example.com/s3
  site: site-a
  stream_name: cam3
  expire_date: "31/12/2025"
`)

	configs, err := LoadStreamConfigs(path, zap.NewNop())
	require.NoError(t, err)

	// 非法条目跳过，合法条目保留
	require.Len(t, configs, 1)
	assert.Equal(t, "site-a_cam2", configs[0].StreamID())
}

func TestLoadStreamConfigs_MalformedYAML(t *testing.T) {
	path := writeStreamFile(t, "not: [valid: yaml")

	_, err := LoadStreamConfigs(path, zap.NewNop())
	assert.Error(t, err)
}

func TestLoadStreamConfigs_MissingFile(t *testing.T) {
	_, err := LoadStreamConfigs(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	assert.Error(t, err)
}

func TestStreamConfigFileHash(t *testing.T) {
	path := writeStreamFile(t, "- video_url: rtsp://x\n  site: s\n  stream_name: n\n")

	h1, err := StreamConfigFileHash(path)
	require.NoError(t, err)
	assert.NotEmpty(t, h1)

	h2, err := StreamConfigFileHash(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	require.NoError(t, os.WriteFile(path, []byte("- video_url: rtsp://y\n  site: s\n  stream_name: n\n"), 0o644))
	h3, err := StreamConfigFileHash(path)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

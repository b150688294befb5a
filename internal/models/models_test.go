package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestBBox_IoU(t *testing.T) {
	a := BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}

	assert.InDelta(t, 1.0, a.IoU(a), 0.001)

	// 半幅重叠：交 5000，并 15000
	b := BBox{X1: 50, Y1: 0, X2: 150, Y2: 100}
	assert.InDelta(t, 5000.0/15000.0, a.IoU(b), 0.001)

	// 不相交
	assert.Zero(t, a.IoU(BBox{X1: 200, Y1: 200, X2: 300, Y2: 300}))

	// 退化框
	assert.Zero(t, a.IoU(BBox{X1: 50, Y1: 50, X2: 50, Y2: 50}))
	assert.Zero(t, BBox{X1: 10, Y1: 10, X2: 5, Y2: 20}.Area())
}

func TestBBox_MinDistance(t *testing.T) {
	a := BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}

	// 相交 → 0
	assert.Zero(t, a.MinDistance(BBox{X1: 50, Y1: 50, X2: 150, Y2: 150}))

	// 纯水平间隙
	assert.InDelta(t, 20.0, a.MinDistance(BBox{X1: 120, Y1: 0, X2: 200, Y2: 100}), 0.001)

	// 对角间隙：dx=30, dy=40 → 50
	assert.InDelta(t, 50.0, a.MinDistance(BBox{X1: 130, Y1: 140, X2: 200, Y2: 200}), 0.001)
}

func TestBBox_Points(t *testing.T) {
	b := BBox{X1: 10, Y1: 20, X2: 30, Y2: 60}

	assert.Equal(t, Point{X: 20, Y: 40}, b.Centroid())
	assert.Equal(t, Point{X: 20, Y: 60}, b.BottomCenter())
}

func TestZone_Contains(t *testing.T) {
	z := Zone{Polygon: []Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}}

	assert.True(t, z.Contains(Point{X: 50, Y: 50}))
	assert.False(t, z.Contains(Point{X: 150, Y: 50}))

	// 顶点不足的退化多边形
	assert.False(t, Zone{Polygon: []Point{{X: 0, Y: 0}, {X: 100, Y: 100}}}.Contains(Point{X: 50, Y: 50}))
}

func TestLabel_Valid(t *testing.T) {
	assert.True(t, LabelPerson.Valid())
	assert.True(t, LabelNoHardhat.Valid())
	assert.False(t, Label("drone").Valid())
	assert.False(t, Label("").Valid())
}

func TestStreamConfig_Validate(t *testing.T) {
	valid := StreamConfig{
		VideoURL:   "rtsp://example.com/stream1",
		Site:       "site-a",
		StreamName: "cam1",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*StreamConfig)
	}{
		{"missing video_url", func(c *StreamConfig) { c.VideoURL = " " }},
		{"missing site", func(c *StreamConfig) { c.Site = "" }},
		{"missing stream_name", func(c *StreamConfig) { c.StreamName = "" }},
		{"malformed expire_date", func(c *StreamConfig) { c.ExpireDate = "2025/12/31" }},
		{"empty token", func(c *StreamConfig) {
			c.Notifications = NotificationChannels{{Token: "", Language: "en"}}
		}},
		{"duplicate token", func(c *StreamConfig) {
			c.Notifications = NotificationChannels{
				{Token: "tok-1", Language: "en"},
				{Token: "tok-1", Language: "zh-TW"},
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStreamConfig_Expired(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.Local)

	c := StreamConfig{VideoURL: "rtsp://x", Site: "s", StreamName: "n"}
	assert.False(t, c.Expired(now), "no expire_date means never expired")

	c.ExpireDate = "2025-06-30T23:59:59"
	assert.True(t, c.Expired(now))

	c.ExpireDate = "2025-12-31T23:59:59"
	assert.False(t, c.Expired(now))

	// 解析失败按未过期处理，交由 Validate 拒绝
	c.ExpireDate = "not-a-date"
	assert.False(t, c.Expired(now))
}

func TestStreamConfig_StreamID(t *testing.T) {
	c := StreamConfig{Site: "site-a", StreamName: "cam1"}
	assert.Equal(t, "site-a_cam1", c.StreamID())
}

func TestStreamConfig_Hash(t *testing.T) {
	a := StreamConfig{VideoURL: "rtsp://x", Site: "s", StreamName: "n", ModelKey: "yolo11n"}
	b := a

	assert.Equal(t, a.Hash(), b.Hash())

	b.ModelKey = "yolo11x"
	assert.NotEqual(t, a.Hash(), b.Hash())

	b = a
	b.Notifications = NotificationChannels{{Token: "tok", Language: "en"}}
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestNotificationChannels_UnmarshalYAML_PreservesOrder(t *testing.T) {
	src := `
video_url: rtsp://example.com/s1
site: site-a
stream_name: cam1
notifications:
  tok-line-aaa: zh-TW
  "webhook:https://hooks.example.com/x": en
  "mqtt:alerts/site-a": zh-CN
`
	var cfg StreamConfig
	require.NoError(t, yaml.Unmarshal([]byte(src), &cfg))

	require.Len(t, cfg.Notifications, 3)
	assert.Equal(t, NotificationChannel{Token: "tok-line-aaa", Language: "zh-TW"}, cfg.Notifications[0])
	assert.Equal(t, NotificationChannel{Token: "webhook:https://hooks.example.com/x", Language: "en"}, cfg.Notifications[1])
	assert.Equal(t, NotificationChannel{Token: "mqtt:alerts/site-a", Language: "zh-CN"}, cfg.Notifications[2])
}

func TestNotificationChannels_UnmarshalYAML_RejectsSequence(t *testing.T) {
	var n NotificationChannels
	err := yaml.Unmarshal([]byte("- tok-1\n- tok-2\n"), &n)
	assert.Error(t, err)
}

func TestDeliveryKey(t *testing.T) {
	assert.Equal(t, "site-a_cam1:tok:no-hardhat",
		DeliveryKey("site-a_cam1", "tok", ViolationNoHardhat))
}

package config

import (
	"fmt"
	"os"
	"time"
)

// Config 危害检测服务配置
type Config struct {
	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	MQTT struct {
		Broker   string
		ClientID string
		Username string
		Password string
		QoS      byte
	}

	Database struct {
		Host     string
		Port     int
		User     string
		Password string
		Database string
		SSLMode  string
	}

	// 推理服务配置
	Inference struct {
		APIURL     string        // 远程检测 API 地址
		Timeout    time.Duration // 单次推理超时
		MaxRetries int           // 瞬时失败重试次数
		ModelPath  string        // 本地模型权重路径
		ModelCfg   string        // 本地模型网络配置路径
	}

	// 流任务配置
	Stream struct {
		ConfigFile      string        // 流配置 YAML 路径
		ReloadInterval  time.Duration // 配置重载轮询间隔
		CaptureInterval time.Duration // 取帧间隔
		ConnectRetries  int           // 源连接重试上限
		ConnectBackoff  time.Duration // 源连接重试初始退避
	}

	// 区域聚类配置
	Zone struct {
		Eps             float64       // DBSCAN 邻域半径（像素）
		MinPoints       int           // DBSCAN 成簇最小点数
		RecomputeFrames int           // 每 K 帧重算一次
		RecomputeEvery  time.Duration // 或每隔 T 时间重算一次
	}

	// 违规判定阈值
	Detector struct {
		OverlapThreshold   float64       // PPE 判定的 IoU 阈值
		ProximityThreshold float64       // 接近判定的距离阈值（像素）
		DedupWindow        time.Duration // 同一 track+违规类型的抑制窗口
	}

	// 通知配置
	Notify struct {
		Cooldown        time.Duration // 同键通知冷却间隔
		DefaultLanguage string        // 模板缺失时的回退语言
		Store           string        // 投递记录存储: memory / redis / postgres
		KeyPrefix       string        // Redis 投递记录键前缀
		HourStart       int           // 通知时段起点（-1 表示不限制）
		HourEnd         int           // 通知时段终点
	}

	// 带标注帧发布配置
	Frames struct {
		Enabled bool  // 是否发布到 Redis Streams
		MaxLen  int64 // 每路流保留的帧数
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置（带默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "hazard-watch")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "hazardwatch")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Inference.APIURL = getEnv("DETECT_API_URL", "http://localhost:5000")
	cfg.Inference.Timeout = getEnvDuration("DETECT_TIMEOUT", 10*time.Second)
	cfg.Inference.MaxRetries = getEnvInt("DETECT_MAX_RETRIES", 3)
	cfg.Inference.ModelPath = getEnv("DETECT_MODEL_PATH", "models/hazard.onnx")
	cfg.Inference.ModelCfg = getEnv("DETECT_MODEL_CFG", "")

	cfg.Stream.ConfigFile = getEnv("STREAM_CONFIG_FILE", "config/streams.yaml")
	cfg.Stream.ReloadInterval = getEnvDuration("STREAM_RELOAD_INTERVAL", 10*time.Second)
	cfg.Stream.CaptureInterval = getEnvDuration("STREAM_CAPTURE_INTERVAL", 5*time.Second)
	cfg.Stream.ConnectRetries = getEnvInt("STREAM_CONNECT_RETRIES", 5)
	cfg.Stream.ConnectBackoff = getEnvDuration("STREAM_CONNECT_BACKOFF", time.Second)

	cfg.Zone.Eps = getEnvFloat("ZONE_CLUSTER_EPS", 150)
	cfg.Zone.MinPoints = getEnvInt("ZONE_CLUSTER_MIN_POINTS", 3)
	cfg.Zone.RecomputeFrames = getEnvInt("ZONE_RECOMPUTE_FRAMES", 10)
	cfg.Zone.RecomputeEvery = getEnvDuration("ZONE_RECOMPUTE_INTERVAL", 30*time.Second)

	cfg.Detector.OverlapThreshold = getEnvFloat("DETECT_OVERLAP_THRESHOLD", 0.3)
	cfg.Detector.ProximityThreshold = getEnvFloat("DETECT_PROXIMITY_THRESHOLD", 100)
	cfg.Detector.DedupWindow = getEnvDuration("DETECT_DEDUP_WINDOW", 30*time.Second)

	cfg.Notify.Cooldown = getEnvDuration("NOTIFY_COOLDOWN", time.Hour)
	cfg.Notify.DefaultLanguage = getEnv("NOTIFY_DEFAULT_LANGUAGE", "en")
	cfg.Notify.Store = getEnv("NOTIFY_STORE", "memory")
	cfg.Notify.KeyPrefix = getEnv("NOTIFY_KEY_PREFIX", "hazard:notify:")
	cfg.Notify.HourStart = getEnvInt("NOTIFY_HOUR_START", -1)
	cfg.Notify.HourEnd = getEnvInt("NOTIFY_HOUR_END", -1)

	cfg.Frames.Enabled = getEnv("FRAMES_PUBLISH", "true") == "true"
	cfg.Frames.MaxLen = int64(getEnvInt("FRAMES_MAXLEN", 10))

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	switch cfg.Notify.Store {
	case "memory", "redis", "postgres":
	default:
		return nil, fmt.Errorf("unknown NOTIFY_STORE %q", cfg.Notify.Store)
	}

	// 时段门控要么整体关闭，要么是一个合法的小时区间
	if cfg.Notify.HourStart >= 0 {
		if cfg.Notify.HourStart > 23 ||
			cfg.Notify.HourEnd <= cfg.Notify.HourStart || cfg.Notify.HourEnd > 24 {
			return nil, fmt.Errorf(
				"invalid notification hours %d-%d: NOTIFY_HOUR_END must be greater than NOTIFY_HOUR_START and at most 24",
				cfg.Notify.HourStart, cfg.Notify.HourEnd,
			)
		}
	}

	return cfg, nil
}

// DatabaseDSN 构建 Postgres 连接串
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

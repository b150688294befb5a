package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"hazard-watch/internal/capture"
	"hazard-watch/internal/config"
	"hazard-watch/internal/detector"
	"hazard-watch/internal/frames"
	"hazard-watch/internal/inference"
	"hazard-watch/internal/models"
	"hazard-watch/internal/notifier"
	"hazard-watch/internal/repository"
	"hazard-watch/internal/stream"
	"hazard-watch/internal/zone"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// eventBuffer 事件通道缓冲（多生产者单消费者）
const eventBuffer = 256

// HazardService 危害检测服务（整合各层）
type HazardService struct {
	cfg    *config.Config
	logger *zap.Logger

	redisClient *redis.Client
	db          *sql.DB
	mqttSender  *notifier.MQTTMessenger

	events     chan models.ViolationEvent
	dispatcher *notifier.Dispatcher
	manager    *stream.Manager
	publisher  *frames.Publisher

	// 本地推理模型按需加载（全部流走远程时不加载）
	localMu  sync.Mutex
	local    *inference.LocalDetector
	localErr error

	// 重载状态
	fileHash  string
	streamIDs map[string]bool
}

// NewHazardService 创建服务
func NewHazardService(cfg *config.Config, logger *zap.Logger) (*HazardService, error) {
	// 1. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	s := &HazardService{
		cfg:         cfg,
		logger:      logger,
		redisClient: redisClient,
		events:      make(chan models.ViolationEvent, eventBuffer),
		streamIDs:   make(map[string]bool),
	}

	// 2. 投递记录存储
	store, err := s.buildRecordStore()
	if err != nil {
		return nil, err
	}

	// 3. 传输后端
	transports, err := s.buildTransports()
	if err != nil {
		return nil, err
	}

	// 4. 通知分发器
	s.dispatcher = notifier.NewDispatcher(store, transports, notifier.Options{
		Cooldown:        cfg.Notify.Cooldown,
		DefaultLanguage: cfg.Notify.DefaultLanguage,
		HourStart:       cfg.Notify.HourStart,
		HourEnd:         cfg.Notify.HourEnd,
	}, logger)

	// 5. 帧发布器
	if cfg.Frames.Enabled {
		s.publisher = frames.NewPublisher(redisClient, cfg.Frames.MaxLen, logger)
	}

	// 6. 流任务管理器
	s.manager = stream.NewManager(s.buildTask, logger)

	return s, nil
}

// buildRecordStore 按配置选择投递记录存储后端
func (s *HazardService) buildRecordStore() (notifier.RecordStore, error) {
	switch s.cfg.Notify.Store {
	case "redis":
		return notifier.NewRedisStore(
			s.redisClient,
			s.cfg.Notify.KeyPrefix,
			2*s.cfg.Notify.Cooldown,
			s.logger,
		), nil
	case "postgres":
		db, err := sql.Open("postgres", s.cfg.DatabaseDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.db = db
		return repository.NewDeliveryRecordRepository(db, s.logger), nil
	default:
		return notifier.NewMemoryStore(), nil
	}
}

// buildTransports 装配 token scheme → 传输后端映射
// MQTT 代理不可达按配置错误处理：该后端禁用，其它后端继续工作
func (s *HazardService) buildTransports() (map[string]notifier.Messenger, error) {
	transports := map[string]notifier.Messenger{
		notifier.SchemeWebhook: notifier.NewWebhookMessenger(10*time.Second, s.logger),
		notifier.SchemeLine:    notifier.NewLineMessenger("", 10*time.Second, s.logger),
	}

	mqttSender, err := notifier.NewMQTTMessenger(
		s.cfg.MQTT.Broker,
		s.cfg.MQTT.ClientID,
		s.cfg.MQTT.Username,
		s.cfg.MQTT.Password,
		s.cfg.MQTT.QoS,
		s.logger,
	)
	if err != nil {
		s.logger.Error("MQTT transport disabled",
			zap.String("broker", s.cfg.MQTT.Broker),
			zap.Error(err),
		)
	} else {
		s.mqttSender = mqttSender
		transports[notifier.SchemeMQTT] = mqttSender
	}

	return transports, nil
}

// buildTask 流任务工厂
func (s *HazardService) buildTask(sc models.StreamConfig) (*stream.Task, error) {
	infer, err := s.detectorFor(sc)
	if err != nil {
		return nil, err
	}

	source := capture.NewVideoSource(sc.VideoURL, s.cfg.Stream.CaptureInterval, s.logger)

	zones := zone.NewEngine(
		sc.StreamID(),
		zone.NewDBSCAN(s.cfg.Zone.Eps, s.cfg.Zone.MinPoints),
		s.cfg.Zone.RecomputeFrames,
		s.cfg.Zone.RecomputeEvery,
		s.logger,
	)

	viol := detector.New(sc.Site, detector.Thresholds{
		Overlap:   s.cfg.Detector.OverlapThreshold,
		Proximity: s.cfg.Detector.ProximityThreshold,
	}, s.cfg.Detector.DedupWindow, s.logger)

	var sink stream.FrameSink
	if s.publisher != nil {
		sink = s.publisher
	}

	return stream.NewTask(sc, source, infer, zones, viol, s.events, sink, stream.TaskOptions{
		ConnectRetries: s.cfg.Stream.ConnectRetries,
		ConnectBackoff: s.cfg.Stream.ConnectBackoff,
	}, s.logger), nil
}

// detectorFor 按 detect_with_server 选择推理能力实现
func (s *HazardService) detectorFor(sc models.StreamConfig) (inference.Detector, error) {
	if sc.DetectWithServer {
		return inference.NewRemoteDetector(
			s.cfg.Inference.APIURL,
			sc.ModelKey,
			s.cfg.Inference.Timeout,
			s.cfg.Inference.MaxRetries,
			s.logger,
		), nil
	}
	return s.localDetector()
}

// localDetector 懒加载共享的本地模型
func (s *HazardService) localDetector() (inference.Detector, error) {
	s.localMu.Lock()
	defer s.localMu.Unlock()

	if s.local == nil && s.localErr == nil {
		s.local, s.localErr = inference.NewLocalDetector(
			s.cfg.Inference.ModelPath,
			s.cfg.Inference.ModelCfg,
			s.logger,
		)
	}
	if s.localErr != nil {
		return nil, s.localErr
	}
	return s.local, nil
}

// Start 运行服务：启动分发器、加载流配置、轮询重载，直到上下文取消
func (s *HazardService) Start(ctx context.Context) error {
	go s.dispatcher.Run(ctx, s.events)

	if err := s.reload(ctx); err != nil {
		return fmt.Errorf("initial stream config load failed: %w", err)
	}

	ticker := time.NewTicker(s.cfg.Stream.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.manager.StopAll()
			return nil
		case <-ticker.C:
			hash, err := config.StreamConfigFileHash(s.cfg.Stream.ConfigFile)
			if err != nil {
				s.logger.Error("Failed to hash stream config file",
					zap.Error(err),
				)
				continue
			}
			if hash == s.fileHash {
				continue
			}
			if err := s.reload(ctx); err != nil {
				s.logger.Error("Stream config reload failed",
					zap.Error(err),
				)
			}
		}
	}
}

// reload 全量加载流配置并按差异启停任务
func (s *HazardService) reload(ctx context.Context) error {
	hash, err := config.StreamConfigFileHash(s.cfg.Stream.ConfigFile)
	if err != nil {
		return err
	}

	configs, err := config.LoadStreamConfigs(s.cfg.Stream.ConfigFile, s.logger)
	if err != nil {
		return err
	}

	s.fileHash = hash
	s.dispatcher.SetConfigs(configs)
	s.manager.Apply(ctx, configs)

	// 清理已移除流的帧 stream 键
	current := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		current[cfg.StreamID()] = true
	}
	if s.publisher != nil {
		for id := range s.streamIDs {
			if !current[id] {
				if err := s.publisher.Delete(ctx, id); err != nil {
					s.logger.Warn("Failed to delete frame stream",
						zap.String("stream_id", id),
						zap.Error(err),
					)
				}
			}
		}
	}
	s.streamIDs = current

	s.logger.Info("Stream configuration applied",
		zap.Int("streams", len(configs)),
	)
	return nil
}

// Stop 释放服务资源
func (s *HazardService) Stop() error {
	s.manager.StopAll()

	if s.mqttSender != nil {
		s.mqttSender.Close()
	}

	s.localMu.Lock()
	if s.local != nil {
		if err := s.local.Close(); err != nil {
			s.logger.Error("Failed to close local detector", zap.Error(err))
		}
	}
	s.localMu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}

package notifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTMessenger MQTT 传输后端
// 通道 token 形如 "mqtt:<topic>"，告警以 JSON 负载发布到对应主题
type MQTTMessenger struct {
	client mqtt.Client
	qos    byte
	logger *zap.Logger
}

// mqttPayload MQTT 告警负载
type mqttPayload struct {
	Message string `json:"message"`
	Media   string `json:"media,omitempty"` // base64 编码的快照
}

// NewMQTTMessenger 创建并连接 MQTT 传输后端
func NewMQTTMessenger(broker, clientID, username, password string, qos byte, logger *zap.Logger) (*MQTTMessenger, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)

	if username != "" {
		opts.SetUsername(username)
	}
	if password != "" {
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTMessenger{
		client: client,
		qos:    qos,
		logger: logger,
	}, nil
}

// Send 发布告警到 target 主题
func (m *MQTTMessenger) Send(ctx context.Context, target, message string, media []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload := mqttPayload{Message: message}
	if len(media) > 0 {
		payload.Media = base64.StdEncoding.EncodeToString(media)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	token := m.client.Publish(target, m.qos, false, data)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", target, token.Error())
	}

	return nil
}

// Close 断开 MQTT 连接
func (m *MQTTMessenger) Close() {
	m.client.Disconnect(250)
}

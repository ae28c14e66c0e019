package ingress

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/meshwatch/meshwatch/internal/logging"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttDisconnectMs   = 250
)

// MQTTConfig configures the broker subscription.
type MQTTConfig struct {
	BrokerURL string
	Topic     string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
}

// MQTTSource subscribes to a Meshtastic MQTT broker. The paho client
// auto-reconnects; the subscription is re-established from the on-connect
// hook so it survives broker restarts.
type MQTTSource struct {
	logger  *logging.Logger
	cfg     MQTTConfig
	client  mqtt.Client
	handler Handler
	ctx     context.Context
}

func NewMQTTSource(logger *logging.Logger, cfg MQTTConfig) *MQTTSource {
	if cfg.ClientID == "" {
		cfg.ClientID = "meshwatch-" + uuid.New().String()[:8]
	}
	return &MQTTSource{logger: logger, cfg: cfg}
}

func (s *MQTTSource) Start(ctx context.Context, handler Handler) error {
	s.ctx = ctx
	s.handler = handler

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.BrokerURL)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetUsername(s.cfg.Username)
	opts.SetPassword(s.cfg.Password)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("mqtt connection lost", "broker", s.cfg.BrokerURL, "error", err)
	})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker %s: %w", s.cfg.BrokerURL, token.Error())
	}
	return nil
}

func (s *MQTTSource) onConnect(client mqtt.Client) {
	s.logger.Info("mqtt connected", "broker", s.cfg.BrokerURL, "topic", s.cfg.Topic)
	token := client.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		s.handler(s.ctx, msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		s.logger.Error("mqtt subscribe failed", "topic", s.cfg.Topic, "error", token.Error())
	}
}

func (s *MQTTSource) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(mqttDisconnectMs)
	}
}

// MQTTPublisher publishes envelope frames, used by the traffic seeder.
type MQTTPublisher struct {
	logger *logging.Logger
	client mqtt.Client
	qos    byte
}

func NewMQTTPublisher(logger *logging.Logger, cfg MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID + "-pub")
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetConnectTimeout(mqttConnectTimeout)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", cfg.BrokerURL, token.Error())
	}
	return &MQTTPublisher{logger: logger, client: client, qos: cfg.QoS}, nil
}

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(mqttDisconnectMs)
}

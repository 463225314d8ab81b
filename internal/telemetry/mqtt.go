// internal/telemetry/mqtt.go
package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"eink-power-cli/internal/config"
	"eink-power-cli/internal/format"
	"eink-power-cli/internal/model"
)

// client is the part of MQTT.Client the publisher uses
type client interface {
	Connect() MQTT.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// Publisher sends monitor readings to an MQTT broker as JSON envelopes
type Publisher struct {
	client client
	config config.MQTTConfig
	logger *zap.Logger
}

// NewPublisher creates a publisher for the configured broker. It does not connect.
func NewPublisher(cfg config.MQTTConfig, logger *zap.Logger) *Publisher {
	opts := MQTT.NewClientOptions().AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("%s_%d", config.ConfigName, time.Now().Unix())
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)

	logger = logger.With(zap.String("component", "mqtt"), zap.String("broker", cfg.Broker))
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	return newPublisher(MQTT.NewClient(opts), cfg, logger)
}

func newPublisher(c client, cfg config.MQTTConfig, logger *zap.Logger) *Publisher {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Publisher{client: c, config: cfg, logger: logger}
}

// Connect connects to the broker
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(p.config.ConnectTimeout) {
		return fmt.Errorf("MQTT connection to %s timed out after %s", p.config.Broker, p.config.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connection failed: %w", err)
	}
	p.logger.Info("Connected to MQTT broker")
	return nil
}

// Topic returns the topic for a command, e.g. eink/power/battery/read
func (p *Publisher) Topic(command string) string {
	prefix := strings.TrimRight(p.config.TopicPrefix, "/")
	path := strings.Join(strings.Fields(command), "/")
	if prefix == "" {
		return path
	}
	return prefix + "/" + path
}

// PublishOutcome publishes a completed transaction
func (p *Publisher) PublishOutcome(outcome *model.Outcome) error {
	return p.Publish(format.NewEnvelope(outcome), outcome.Command.Name)
}

// PublishError publishes a failed reading
func (p *Publisher) PublishError(command string, err error) error {
	return p.Publish(format.ErrorEnvelope(command, err), command)
}

// Publish sends an envelope on the topic of command
func (p *Publisher) Publish(env *format.Envelope, command string) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope failed: %w", err)
	}

	topic := p.Topic(command)
	token := p.client.Publish(topic, p.config.QoS, p.config.Retain, payload)
	if !token.WaitTimeout(p.config.ConnectTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	p.logger.Debug("Published reading", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}

// Close disconnects from the broker
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info("Disconnected from MQTT broker")
	}
}

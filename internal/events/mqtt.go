package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient is the subset of the paho client the bridge uses.
// This allows us to mock MQTT calls in tests.
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// MQTTConfig configures the broker bridge.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"brokerUrl"`
	ClientID    string `json:"clientId"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	TopicPrefix string `json:"topicPrefix"`
}

// MQTTBridge republishes hub events to an MQTT broker under
// "<prefix>/<event type>" topics so external systems can subscribe.
type MQTTBridge struct {
	client MQTTClient
	prefix string
	logger *slog.Logger
	cancel func()
}

// NewMQTTBridge connects to the broker and starts forwarding hub events.
func NewMQTTBridge(cfg MQTTConfig, hub *Hub, logger *slog.Logger) (*MQTTBridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("events: mqtt connect: %w", token.Error())
	}

	b := &MQTTBridge{
		client: client,
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt-bridge"),
	}
	b.attach(hub)
	return b, nil
}

// attach subscribes to the hub and forwards events until Close.
func (b *MQTTBridge) attach(hub *Hub) {
	ch, cancel := hub.Subscribe()
	b.cancel = cancel
	go func() {
		for ev := range ch {
			b.forward(ev)
		}
	}()
}

func (b *MQTTBridge) forward(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("failed to encode event", "type", ev.Type, "error", err)
		return
	}
	topic := b.prefix + "/" + ev.Type
	token := b.client.Publish(topic, 0, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		b.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

// Close stops forwarding and disconnects from the broker.
func (b *MQTTBridge) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	b.client.Disconnect(250)
}

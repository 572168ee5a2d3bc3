// Package publish sends a finished estimate to optional external sinks.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lox/balancepoint/internal/log"
	"github.com/lox/balancepoint/internal/models"
)

const (
	DefaultTopicPrefix = "balancepoint"
	DefaultClientID    = "balancepoint"
	publishTimeout     = 10 * time.Second
)

// Payload is the retained JSON state published for Home Assistant.
type Payload struct {
	BalancePoint float64   `json:"balance_point"`
	Slope        float64   `json:"slope"`
	Intercept    float64   `json:"intercept"`
	RSquared     float64   `json:"r_squared"`
	Days         int       `json:"days"`
	Regressor    string    `json:"regressor"`
	Unit         string    `json:"unit"`
	ComputedAt   time.Time `json:"computed_at"`
}

func NewPayload(e models.Estimate, now time.Time) Payload {
	return Payload{
		BalancePoint: e.BalancePoint,
		Slope:        e.Fit.Slope,
		Intercept:    e.Fit.Intercept,
		RSquared:     e.Fit.RSquared,
		Days:         e.Fit.N,
		Regressor:    e.Regressor,
		Unit:         "°F",
		ComputedAt:   now.UTC(),
	}
}

type MQTTConfig struct {
	Broker      string // host:port or a full tcp:// URL
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
	// Discovery also publishes a Home Assistant sensor config.
	Discovery bool
}

type MQTT struct {
	client    mqtt.Client
	prefix    string
	discovery bool
}

// NewMQTT connects to the broker.
func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker address is required")
	}
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", broker, token.Error())
	}
	return newMQTT(client, cfg.TopicPrefix, cfg.Discovery), nil
}

func newMQTT(client mqtt.Client, prefix string, discovery bool) *MQTT {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTT{client: client, prefix: strings.TrimSuffix(prefix, "/"), discovery: discovery}
}

func (m *MQTT) StateTopic() string {
	return m.prefix + "/balance_point"
}

type discoveryConfig struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic"`
	ValueTemplate     string `json:"value_template"`
	UnitOfMeasurement string `json:"unit_of_measurement"`
	DeviceClass       string `json:"device_class"`
	JSONAttributes    string `json:"json_attributes_topic"`
}

func (m *MQTT) discoveryTopic() string {
	return "homeassistant/sensor/" + strings.ReplaceAll(m.prefix, "/", "_") + "/balance_point/config"
}

// Publish sends the payload as a retained message.
func (m *MQTT) Publish(ctx context.Context, p Payload) error {
	if m.discovery {
		cfg := discoveryConfig{
			Name:              "Heating balance point",
			UniqueID:          strings.ReplaceAll(m.prefix, "/", "_") + "_balance_point",
			StateTopic:        m.StateTopic(),
			ValueTemplate:     "{{ value_json.balance_point | round(1) }}",
			UnitOfMeasurement: "°F",
			DeviceClass:       "temperature",
			JSONAttributes:    m.StateTopic(),
		}
		if err := m.send(m.discoveryTopic(), cfg); err != nil {
			return err
		}
	}
	if err := m.send(m.StateTopic(), p); err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "publish: sent estimate over mqtt", "topic", m.StateTopic())
	return nil
}

func (m *MQTT) send(topic string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mqtt: encode %s: %w", topic, err)
	}
	token := m.client.Publish(topic, 1, true, body)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: publish %s: timed out after %s", topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}

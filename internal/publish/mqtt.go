// Package publish forwards decoded fixes to an MQTT broker.
package publish

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/shaunagostinho/gpsdma/internal/gps"
)

// Config holds MQTT publisher configuration.
type Config struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Broker   string `yaml:"broker" json:"broker"`      // e.g. tcp://localhost:1883
	ClientID string `yaml:"client_id" json:"clientId"` // MQTT client id
	Topic    string `yaml:"topic" json:"topic"`
	QoS      int    `yaml:"qos" json:"qos"`
	Retained bool   `yaml:"retained" json:"retained"`
}

// Message is the JSON payload published for each fix.
type Message struct {
	gps.Fix
	Stamp int64 `json:"stamp"` // Unix ms when the fix was consumed
}

// MQTT publishes fixes as JSON to a single topic.
type MQTT struct {
	client   mqtt.Client
	broker   string
	topic    string
	qos      byte
	retained bool
	timeout  time.Duration
}

// NewMQTT creates a publisher. It does not connect.
func NewMQTT(cfg Config) *MQTT {
	if cfg.Broker == "" {
		cfg.Broker = "tcp://localhost:1883"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "gpsdma"
	}
	if cfg.Topic == "" {
		cfg.Topic = "gpsdma/fix"
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		cfg.QoS = 0
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	return &MQTT{
		client:   mqtt.NewClient(opts),
		broker:   cfg.Broker,
		topic:    cfg.Topic,
		qos:      byte(cfg.QoS),
		retained: cfg.Retained,
		timeout:  2 * time.Second,
	}
}

func (m *MQTT) Name() string { return "MQTT " + m.broker }

// Connect opens the broker connection.
func (m *MQTT) Connect() error {
	token := m.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: connect %s: %w", m.broker, token.Error())
	}
	log.Printf("[mqtt] connected to %s, publishing on %s", m.broker, m.topic)
	return nil
}

// Publish sends fix to the configured topic.
func (m *MQTT) Publish(now time.Time, fix gps.Fix) error {
	payload, err := Encode(now, fix)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic, m.qos, m.retained, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("mqtt: publish %s: timed out", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", m.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}

// Encode renders the JSON payload for fix.
func Encode(now time.Time, fix gps.Fix) ([]byte, error) {
	data, err := json.Marshal(Message{Fix: fix, Stamp: now.UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("mqtt: marshal fix: %w", err)
	}
	return data, nil
}

package datalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"servo-dispatcher/internal/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
)

// Publisher is the part of the paho client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// MQTTSink publishes each row as JSON to <topic>/<servo id>.
type MQTTSink struct {
	pub     Publisher
	client  pahomqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
}

// NewMQTTSink connects to the broker named in cfg.
func NewMQTTSink(cfg config.MQTTConfig) (*MQTTSink, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("connecting to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}
	s := newMQTTSink(client, cfg.Topic, byte(cfg.QoS))
	s.client = client
	return s, nil
}

func newMQTTSink(pub Publisher, topic string, qos byte) *MQTTSink {
	return &MQTTSink{
		pub:     pub,
		topic:   strings.TrimRight(topic, "/"),
		qos:     qos,
		timeout: defaultPublishTimeout,
	}
}

func (s *MQTTSink) Name() string { return "mqtt:" + s.topic }

// Write publishes the row and waits for the broker acknowledgement.
func (s *MQTTSink) Write(ctx context.Context, r Row) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding row: %w", err)
	}
	topic := s.topic + "/" + strconv.Itoa(r.Servo)
	token := s.pub.Publish(topic, s.qos, false, payload)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	if s.client != nil {
		s.client.Disconnect(defaultDisconnectQuiesce)
	}
	return nil
}

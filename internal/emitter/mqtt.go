package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dispatch/internal/models"
)

// MQTTConfig defines the connection parameters for the notification publisher.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// MQTTSink publishes notifications as JSON on <prefix>/notifications/<role>.
type MQTTSink struct {
	cli     pahoClient
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewMQTTSink connects to the broker described by cfg.
func NewMQTTSink(cfg MQTTConfig, log *logrus.Entry) (*MQTTSink, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(_ paho.Client) {
		log.WithField("broker", cfg.Broker).Info("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	}

	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}
	return newMQTTSinkWithClient(c, cfg), nil
}

func newMQTTSinkWithClient(c pahoClient, cfg MQTTConfig) *MQTTSink {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "fleet"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTSink{cli: c, prefix: prefix, qos: cfg.QoS, timeout: timeout}
}

// Topic returns the topic notifications for role are published on.
func (s *MQTTSink) Topic(role models.Role) string {
	return fmt.Sprintf("%s/notifications/%s", s.prefix, role)
}

func (s *MQTTSink) NotifyRole(_ context.Context, n models.Notification) error {
	if !s.cli.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	token := s.cli.Publish(s.Topic(n.Role), s.qos, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish %s: timed out after %s", s.Topic(n.Role), s.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", s.Topic(n.Role), err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() {
	s.cli.Disconnect(250)
}

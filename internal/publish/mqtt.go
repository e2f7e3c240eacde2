// Package publish sends per-snapshot estimates to an MQTT broker.
package publish

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/csi.report/internal/csi/estimate"
	"github.com/banshee-data/csi.report/internal/monitoring"
)

var logf = monitoring.Prefixed("mqtt")

// Payload formats.
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("MQTT not connected")

// Config describes the broker and topic.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	Retain   bool
	// Format is FormatJSON or FormatProto.
	Format string
}

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher publishes estimate summaries.
type Publisher struct {
	client  Client
	config  Config
	metrics *monitoring.Metrics
}

// randomClientID returns prefix followed by 8 bytes from r in hex.
func randomClientID(r io.Reader, prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("failed to generate MQTT client id: %w", err)
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

// NewPublisher connects to the broker. Reconnection is automatic after
// the first successful connect.
func NewPublisher(cfg Config, metrics *monitoring.Metrics) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("no MQTT broker configured")
	}
	if _, err := Encode(&estimate.Summary{}, cfg.Format); err != nil {
		return nil, err
	}

	clientID, err := randomClientID(rand.Reader, cfg.ClientID)
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logf("connected to broker %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logf("connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logf("attempting to reconnect...")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return newPublisher(client, cfg, metrics), nil
}

func newPublisher(client Client, cfg Config, metrics *monitoring.Metrics) *Publisher {
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	return &Publisher{client: client, config: cfg, metrics: metrics}
}

// Topic is the topic a summary is published to: the configured topic
// followed by the chanspec's control channel and bandwidth.
func (p *Publisher) Topic(s *estimate.Summary) string {
	return fmt.Sprintf("%s/%s", p.config.Topic, s.ChanSpec)
}

// Publish sends s without waiting for the broker's acknowledgement.
// Delivery failures are logged and counted.
func (p *Publisher) Publish(s *estimate.Summary) error {
	if p == nil || !p.client.IsConnected() {
		p.recordResult(ErrNotConnected)
		return ErrNotConnected
	}
	data, err := Encode(s, p.config.Format)
	if err != nil {
		p.recordResult(err)
		return err
	}

	topic := p.Topic(s)
	token := p.client.Publish(topic, p.config.QoS, p.config.Retain, data)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			logf("failed to publish seq %d to %s: %v", s.SeqCnt, topic, err)
		}
		p.recordResult(token.Error())
	}()
	return nil
}

func (p *Publisher) recordResult(err error) {
	if p == nil {
		return
	}
	p.metrics.Publish("mqtt", err)
}

// Disconnect waits up to 250ms for in-flight messages and disconnects.
func (p *Publisher) Disconnect() {
	if p != nil && p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		logf("disconnected from broker")
	}
}

// Encode renders s as JSON or as a protobuf google.protobuf.Struct with
// the same field names.
func Encode(s *estimate.Summary, format string) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.Marshal(s)
	case FormatProto:
		st, err := SummaryStruct(s)
		if err != nil {
			return nil, err
		}
		return proto.Marshal(st)
	}
	return nil, fmt.Errorf("unknown MQTT payload format %q", format)
}

// SummaryStruct converts s to a structpb.Struct via its JSON form.
func SummaryStruct(s *estimate.Summary) (*structpb.Struct, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build protobuf struct: %w", err)
	}
	return st, nil
}

// Package mqttbroker is the MQTT broker.Publisher/broker.Subscriber
// adapter, grounded on nmxmxh-master-ovasabi's internal/nexus/.../adapters
// MQTTAdapter translated to this package's narrower Publisher/Subscriber
// contract and to structured logging in place of fmt.Printf.
package mqttbroker

import (
	"context"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/broker"
)

// Config describes the broker connection and the wildcard subscription
// Subscribe registers.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	SubscribeTopic string // defaults to "#" (every topic) when empty
	QOS            byte
}

// Broker is an MQTT-backed broker.Publisher and broker.Subscriber.
type Broker struct {
	cfg    Config
	client mqtt.Client
}

// Connect dials cfg.BrokerURL and blocks until the CONNECT handshake
// completes or fails.
func Connect(cfg Config) (*Broker, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("mqttbroker: connection lost", "broker", cfg.BrokerURL, "error", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttbroker: connect %s: %w", cfg.BrokerURL, err)
	}
	return &Broker{cfg: cfg, client: client}, nil
}

// Publish is client.Publish(topic, qos, retained, body); retained is
// always false — campaign step messages are point-in-time callbacks, not
// state any late subscriber should replay.
func (b *Broker) Publish(_ context.Context, topic string, body []byte, _ string, _ map[string]string, _ bool) error {
	token := b.client.Publish(topic, b.cfg.QOS, false, body)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttbroker: publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a single wildcard handler forwarding every message
// to sink.HandleBrokerMessage, translating MQTT message properties into
// the headers map the engine expects (content type is always inferred as
// "application/json" — MQTT carries no content-type property).
func (b *Broker) Subscribe(ctx context.Context, sink broker.MessageSink) error {
	topic := b.cfg.SubscribeTopic
	if topic == "" {
		topic = "#"
	}

	token := b.client.Subscribe(topic, b.cfg.QOS, func(_ mqtt.Client, msg mqtt.Message) {
		headers := messageHeaders(msg.Topic(), msg.Qos())
		sink.HandleBrokerMessage(ctx, msg.Payload(), "application/json", headers)
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttbroker: subscribe %s: %w", topic, err)
	}

	<-ctx.Done()
	return ctx.Err()
}

// messageHeaders translates an MQTT message's topic and QOS into the
// headers map broker.MessageSink expects.
func messageHeaders(topic string, qos byte) map[string]string {
	return map[string]string{
		"topic": topic,
		"qos":   fmt.Sprint(qos),
	}
}

// Close disconnects with a 250ms grace period for in-flight QOS 1/2 acks.
func (b *Broker) Close() error {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
	return nil
}

// Package amqpbroker is the AMQP 0-9-1 broker.Publisher/broker.Subscriber
// adapter, grounded on nmxmxh-master-ovasabi's internal/nexus/.../adapters
// AMQPAdapter translated to this package's narrower Publisher/Subscriber
// contract and to structured logging in place of fmt.Printf.
package amqpbroker

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/broker"
)

// Config describes the exchange/queue topology this adapter binds to.
type Config struct {
	URL         string
	Exchange    string // topic exchange name; "" selects the default exchange
	Queue       string
	BindingKey  string // routing-key pattern the queue binds with, e.g. "#"
	ConsumerTag string
	Durable     bool
}

// Broker is an AMQP-backed broker.Publisher and broker.Subscriber.
type Broker struct {
	cfg  Config
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to cfg.URL, opens a channel, and declares the exchange
// and queue Subscribe will consume from.
func Dial(cfg Config) (*Broker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqpbroker: dial %s: %w", cfg.URL, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqpbroker: open channel: %w", err)
	}

	b := &Broker{cfg: cfg, conn: conn, ch: ch}
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, cfg.Durable, false, false, false, nil); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("amqpbroker: declare exchange %s: %w", cfg.Exchange, err)
		}
	}
	return b, nil
}

// Publish wraps channel.PublishWithContext, setting the persistent
// delivery mode when persist is true.
func (b *Broker) Publish(ctx context.Context, topic string, body []byte, contentType string, headers map[string]string, persist bool) error {
	mode := uint8(amqp.Transient)
	if persist {
		mode = amqp.Persistent
	}
	err := b.ch.PublishWithContext(ctx, b.cfg.Exchange, topic, false, false, amqp.Publishing{
		ContentType:  contentType,
		Body:         body,
		Headers:      stringMapToTable(headers),
		DeliveryMode: mode,
	})
	if err != nil {
		return fmt.Errorf("amqpbroker: publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe declares and binds cfg.Queue to cfg.BindingKey, then runs a
// consume loop forwarding every delivery to sink.HandleBrokerMessage.
// Deliveries are always acked after the sink call returns: broker
// callbacks never error back to the adapter (spec.md §7 — "swallows
// almost everything"), so there is nothing meaningful to Nack on.
func (b *Broker) Subscribe(ctx context.Context, sink broker.MessageSink) error {
	q, err := b.ch.QueueDeclare(b.cfg.Queue, b.cfg.Durable, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqpbroker: declare queue %s: %w", b.cfg.Queue, err)
	}
	if b.cfg.Exchange != "" {
		bindingKey := b.cfg.BindingKey
		if bindingKey == "" {
			bindingKey = "#"
		}
		if err := b.ch.QueueBind(q.Name, bindingKey, b.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("amqpbroker: bind queue %s to %s: %w", q.Name, bindingKey, err)
		}
	}

	deliveries, err := b.ch.ConsumeWithContext(ctx, q.Name, b.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqpbroker: consume %s: %w", q.Name, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("amqpbroker: delivery channel closed for queue %s", q.Name)
			}
			sink.HandleBrokerMessage(ctx, d.Body, d.ContentType, tableToStringMap(d.Headers, d.RoutingKey))
			if err := d.Ack(false); err != nil {
				slog.Warn("amqpbroker: ack failed", "queue", q.Name, "error", err)
			}
		}
	}
}

// Close tears down the channel and connection.
func (b *Broker) Close() error {
	var err error
	if b.ch != nil {
		err = b.ch.Close()
	}
	if b.conn != nil {
		if cerr := b.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func stringMapToTable(m map[string]string) amqp.Table {
	t := make(amqp.Table, len(m))
	for k, v := range m {
		t[k] = v
	}
	return t
}

func tableToStringMap(t amqp.Table, routingKey string) map[string]string {
	out := make(map[string]string, len(t)+1)
	for k, v := range t {
		out[k] = fmt.Sprint(v)
	}
	out["routing_key"] = routingKey
	return out
}

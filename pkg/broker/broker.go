// Package broker defines the narrow interface the orchestrator consumes
// to talk to a message broker, decoupling it from any specific wire
// protocol. Concrete adapters (pkg/broker/amqpbroker, pkg/broker/mqttbroker)
// implement Publisher and Subscriber against their own client library;
// which one is wired in is a startup-time configuration choice (pkg/config),
// never a compile-time one.
package broker

import "context"

// Publisher sends one message to topic. persist asks the adapter for a
// durable/persistent delivery mode where its protocol supports one (AMQP
// delivery mode 2); adapters for protocols without that concept (MQTT's
// retained flag is a different thing entirely) may ignore it.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte, contentType string, headers map[string]string, persist bool) error
}

// Subscriber drives a consume loop that forwards every inbound message to
// sink. Subscribe blocks until ctx is cancelled or the underlying
// connection fails.
type Subscriber interface {
	Subscribe(ctx context.Context, sink MessageSink) error
}

// MessageSink receives broker deliveries. *orchestrator.Orchestrator
// implements this so adapters depend on the orchestrator's interface
// rather than the orchestrator depending on any broker client — resolving
// the forward-reference design note (spec §9).
type MessageSink interface {
	HandleBrokerMessage(ctx context.Context, body []byte, contentType string, headers map[string]string)
}

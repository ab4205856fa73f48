// Package config loads this engine's single YAML configuration file into
// a Config value, grounded on the teacher's pkg/config package shape
// (top-level struct assembled from sub-structs, YAML-plus-env loading,
// sentinel+wrapper errors, a separate validator) but trimmed to the four
// concerns this engine actually has: which store backend to open, which
// broker backend to dial, the HTTP API's listen address and pre-shared
// key, and the fanout's subscriber queue depth.
package config

import "time"

// Config is the umbrella object returned by Load. It is constructed once
// at process startup and never mutated afterward (spec.md §9 design note:
// config is a one-shot, read-only value passed into component
// constructors by value).
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Broker BrokerConfig `yaml:"broker"`
	API    APIConfig    `yaml:"api"`
	Fanout FanoutConfig `yaml:"fanout"`
}

// StoreConfig selects and configures the event-store backend.
type StoreConfig struct {
	// Backend is "memory", "postgres", or "mongo".
	Backend  string         `yaml:"backend"`
	Postgres PostgresConfig `yaml:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo"`
}

// PostgresConfig configures pkg/database's connection pool for the
// pgstore backend.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// MongoConfig configures the mongostore backend.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// BrokerConfig selects and configures the message-broker adapter.
type BrokerConfig struct {
	// Backend is "amqp" or "mqtt".
	Backend string     `yaml:"backend"`
	AMQP    AMQPConfig `yaml:"amqp"`
	MQTT    MQTTConfig `yaml:"mqtt"`
}

// AMQPConfig mirrors pkg/broker/amqpbroker.Config.
type AMQPConfig struct {
	URL         string `yaml:"url"`
	Exchange    string `yaml:"exchange"`
	Queue       string `yaml:"queue"`
	BindingKey  string `yaml:"binding_key"`
	ConsumerTag string `yaml:"consumer_tag"`
	Durable     bool   `yaml:"durable"`
}

// MQTTConfig mirrors pkg/broker/mqttbroker.Config.
type MQTTConfig struct {
	BrokerURL      string `yaml:"broker_url"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	SubscribeTopic string `yaml:"subscribe_topic"`
	QOS            byte   `yaml:"qos"`
}

// APIConfig configures the HTTP submit/cancel/subscribe surface.
type APIConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	PreSharedKey string `yaml:"pre_shared_key"`
}

// FanoutConfig sizes each subscriber's bounded event queue.
type FanoutConfig struct {
	// QueueDepth overrides pkg/fanout's default subscriber queue capacity.
	// Zero selects the package default (pkg/fanout.New).
	QueueDepth int `yaml:"queue_depth"`
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads path, expands ${VAR}/$VAR-style environment references
// (os.ExpandEnv; a missing variable expands to empty string — validate
// catches any required field that leaves blank), unmarshals the result as
// YAML, applies defaults for any unset field, and validates the result.
// It is the single process-wide construction point for Config (spec.md §9).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	return &cfg, nil
}

// applyDefaults fills in every field a deployment would reasonably leave
// unset, mirroring the teacher's DefaultQueueConfig/resolve* helpers.
func applyDefaults(cfg *Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Postgres.Port == 0 {
		cfg.Store.Postgres.Port = 5432
	}
	if cfg.Store.Postgres.SSLMode == "" {
		cfg.Store.Postgres.SSLMode = "disable"
	}
	if cfg.Store.Postgres.MaxOpenConns == 0 {
		cfg.Store.Postgres.MaxOpenConns = 25
	}
	if cfg.Store.Postgres.MaxIdleConns == 0 {
		cfg.Store.Postgres.MaxIdleConns = 10
	}
	if cfg.Broker.AMQP.ConsumerTag == "" {
		cfg.Broker.AMQP.ConsumerTag = "campaign-orchestrator"
	}
	if cfg.Broker.MQTT.ClientID == "" {
		cfg.Broker.MQTT.ClientID = "campaign-orchestrator"
	}
	if cfg.Broker.MQTT.SubscribeTopic == "" {
		cfg.Broker.MQTT.SubscribeTopic = "#"
	}
	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = ":8080"
	}
}

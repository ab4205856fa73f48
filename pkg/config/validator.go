package config

import "fmt"

var validStoreBackends = map[string]bool{"memory": true, "postgres": true, "mongo": true}
var validBrokerBackends = map[string]bool{"amqp": true, "mqtt": true}

// validate performs the checks applyDefaults can't: backend names must be
// ones this binary knows how to construct, and a live backend needs the
// fields it dials with.
func validate(cfg *Config) error {
	if !validStoreBackends[cfg.Store.Backend] {
		return NewValidationError("store.backend", fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Store.Backend))
	}
	if cfg.Store.Backend == "postgres" && cfg.Store.Postgres.Password == "" {
		return NewValidationError("store.postgres.password", fmt.Errorf("required when store.backend is postgres"))
	}
	if cfg.Store.Backend == "mongo" && cfg.Store.Mongo.URI == "" {
		return NewValidationError("store.mongo.uri", fmt.Errorf("required when store.backend is mongo"))
	}

	if !validBrokerBackends[cfg.Broker.Backend] {
		return NewValidationError("broker.backend", fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Broker.Backend))
	}
	if cfg.Broker.Backend == "amqp" && cfg.Broker.AMQP.URL == "" {
		return NewValidationError("broker.amqp.url", fmt.Errorf("required when broker.backend is amqp"))
	}
	if cfg.Broker.Backend == "mqtt" && cfg.Broker.MQTT.BrokerURL == "" {
		return NewValidationError("broker.mqtt.broker_url", fmt.Errorf("required when broker.backend is mqtt"))
	}

	if cfg.API.PreSharedKey == "" {
		return NewValidationError("api.pre_shared_key", fmt.Errorf("must not be empty"))
	}

	return nil
}

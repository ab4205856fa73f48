package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
broker:
  backend: amqp
  amqp:
    url: amqp://localhost
api:
  pre_shared_key: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, ":8080", cfg.API.ListenAddr)
	assert.Equal(t, 25, cfg.Store.Postgres.MaxOpenConns)
}

func TestLoad_RejectsMissingPreSharedKey(t *testing.T) {
	path := writeConfig(t, `
broker:
  backend: amqp
  amqp:
    url: amqp://localhost
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsUnknownStoreBackend(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: sqlite
broker:
  backend: amqp
  amqp:
    url: amqp://localhost
api:
  pre_shared_key: secret
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsMissingPostgresPassword(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: postgres
broker:
  backend: mqtt
  mqtt:
    broker_url: tcp://localhost:1883
api:
  pre_shared_key: secret
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("ORCHESTRATOR_PSK", "from-env")
	path := writeConfig(t, `
broker:
  backend: amqp
  amqp:
    url: amqp://localhost
api:
  pre_shared_key: ${ORCHESTRATOR_PSK}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.API.PreSharedKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

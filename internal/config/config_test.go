// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, durations, and defaults

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whatsgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:9000"

auth:
  jwt_secret: "sekrit"

client:
  mode: "fake"
  data_dir: "/tmp/whatsgate"
  auto_start: true
  restart_delay: "5s"

events:
  heartbeat_interval: "15s"
  subscriber_buffer: 128

rate_limit:
  standard:
    max_requests: 200
    window: "30s"
  strict:
    max_requests: 20
    window: "1m"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, "sekrit", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Client.AutoStart)
	assert.Equal(t, 5*time.Second, cfg.Client.RestartDelay)
	assert.Equal(t, 15*time.Second, cfg.Events.HeartbeatInterval)
	assert.Equal(t, 128, cfg.Events.SubscriberBuffer)
	assert.Equal(t, 200, cfg.RateLimit.Standard.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Standard.Window)
	assert.Equal(t, 20, cfg.RateLimit.Strict.MaxRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Strict.Window)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fake", cfg.Client.Mode)
	assert.Equal(t, DefaultRestartDelay, cfg.Client.RestartDelay)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.Events.HeartbeatInterval)
	assert.Equal(t, DefaultSubscriberBuffer, cfg.Events.SubscriberBuffer)
	assert.Equal(t, DefaultStandardRequests, cfg.RateLimit.Standard.MaxRequests)
	assert.Equal(t, DefaultStrictRequests, cfg.RateLimit.Strict.MaxRequests)
	assert.Equal(t, DefaultWindow, cfg.RateLimit.Standard.Window)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("WHATSGATE_TEST_SECRET", "from-env")

	path := writeConfig(t, `
server:
  http_addr: "localhost:8090"
auth:
  jwt_secret: "${WHATSGATE_TEST_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8090"
auth:
  jwt_secret: "${WHATSGATE_DEFINITELY_UNSET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8090"
client:
  restart_delay: "not-a-duration"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart_delay")
}

func TestLoad_UnknownClientMode(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8090"
client:
  mode: "webjs"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client.mode")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTPAddr)
}

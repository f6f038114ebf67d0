// ABOUTME: Configuration loading and parsing for whatsgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete whatsgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Client    ClientConfig    `yaml:"client"`
	Events    EventsConfig    `yaml:"events"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AuthConfig holds API authentication configuration. Both fields empty
// disables authentication (local development only).
type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens (HS256).
	JWTSecret string `yaml:"jwt_secret"`
	// APIKeyHash is a bcrypt hash of a static API key accepted as an
	// alternative to JWTs. Generate with `whatsgate token --hash-key`.
	APIKeyHash string `yaml:"api_key_hash"`
}

// ClientConfig holds automation client configuration
type ClientConfig struct {
	// Mode selects the client binding. "fake" runs the built-in simulator;
	// real bindings register their own mode names.
	Mode string `yaml:"mode"`
	// DataDir is where the client persists its session state.
	DataDir string `yaml:"data_dir"`
	// AutoStart launches the session on boot instead of waiting for an
	// explicit start request.
	AutoStart bool `yaml:"auto_start"`

	RestartDelay time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RestartDelayRaw string `yaml:"restart_delay"`
}

// EventsConfig holds subscriber stream configuration
type EventsConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	HeartbeatInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
}

// RateLimitConfig holds per-tier admission control configuration
type RateLimitConfig struct {
	Standard TierConfig `yaml:"standard"`
	Strict   TierConfig `yaml:"strict"`
}

// TierConfig holds one tier's request window. MaxRequests 0 with no window
// configured falls back to the tier default.
type TierConfig struct {
	MaxRequests int `yaml:"max_requests"`

	Window time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	WindowRaw string `yaml:"window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied by Load when the file leaves fields unset.
const (
	DefaultHTTPAddr          = "localhost:8090"
	DefaultRestartDelay      = 2 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSubscriberBuffer  = 64
	DefaultStandardRequests  = 100
	DefaultStrictRequests    = 10
	DefaultWindow            = time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Client.Mode == "" {
		c.Client.Mode = "fake"
	}
	if c.Client.RestartDelay == 0 {
		c.Client.RestartDelay = DefaultRestartDelay
	}
	if c.Events.HeartbeatInterval == 0 {
		c.Events.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Events.SubscriberBuffer == 0 {
		c.Events.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if c.RateLimit.Standard.MaxRequests == 0 {
		c.RateLimit.Standard.MaxRequests = DefaultStandardRequests
	}
	if c.RateLimit.Strict.MaxRequests == 0 {
		c.RateLimit.Strict.MaxRequests = DefaultStrictRequests
	}
	if c.RateLimit.Standard.Window == 0 {
		c.RateLimit.Standard.Window = DefaultWindow
	}
	if c.RateLimit.Strict.Window == 0 {
		c.RateLimit.Strict.Window = DefaultWindow
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Client.Mode != "fake" {
		return fmt.Errorf("unknown client.mode %q (only \"fake\" is built in)", c.Client.Mode)
	}

	if c.RateLimit.Standard.MaxRequests < 0 || c.RateLimit.Strict.MaxRequests < 0 {
		return fmt.Errorf("rate_limit max_requests cannot be negative")
	}

	if c.Events.SubscriberBuffer < 0 {
		return fmt.Errorf("events.subscriber_buffer cannot be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Client.RestartDelayRaw != "" {
		cfg.Client.RestartDelay, err = time.ParseDuration(cfg.Client.RestartDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing restart_delay %q: %w", cfg.Client.RestartDelayRaw, err)
		}
	}

	if cfg.Events.HeartbeatIntervalRaw != "" {
		cfg.Events.HeartbeatInterval, err = time.ParseDuration(cfg.Events.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Events.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.RateLimit.Standard.WindowRaw != "" {
		cfg.RateLimit.Standard.Window, err = time.ParseDuration(cfg.RateLimit.Standard.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing standard window %q: %w", cfg.RateLimit.Standard.WindowRaw, err)
		}
	}

	if cfg.RateLimit.Strict.WindowRaw != "" {
		cfg.RateLimit.Strict.Window, err = time.ParseDuration(cfg.RateLimit.Strict.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing strict window %q: %w", cfg.RateLimit.Strict.WindowRaw, err)
		}
	}

	return nil
}

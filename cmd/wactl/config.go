// ABOUTME: Configuration loading for the wactl operator client
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
}

type GatewayConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// configPath returns the wactl config file path.
// Priority: WACTL_CONFIG env var > XDG_CONFIG_HOME/whatsgate/wactl.toml > ~/.config/whatsgate/wactl.toml
func configPath() string {
	if envPath := os.Getenv("WACTL_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "wactl.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "whatsgate", "wactl.toml")
}

// loadConfig reads the config file if present, then applies environment
// overrides. WHATSGATE_URL and WHATSGATE_TOKEN always win, so wactl works
// with no config file at all.
func loadConfig() (*Config, error) {
	cfg := &Config{
		Gateway: GatewayConfig{URL: "http://localhost:8090"},
	}

	path := configPath()
	if data, err := os.ReadFile(path); err == nil {
		expanded := expandEnvVars(string(data))
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if envURL := os.Getenv("WHATSGATE_URL"); envURL != "" {
		cfg.Gateway.URL = envURL
	}
	if envToken := os.Getenv("WHATSGATE_TOKEN"); envToken != "" {
		cfg.Gateway.Token = envToken
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// DefaultPath is where relaybot looks for its configuration file.
const DefaultPath = ".relaybot.yml"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (RELAYBOT_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	// Overlay environment variables: RELAYBOT_PORT -> port, etc.
	if err := k.Load(env.Provider("RELAYBOT_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "RELAYBOT_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validDrivers is the set of recognized storage driver values.
var validDrivers = map[StorageDriver]bool{
	DriverSQLite:   true,
	DriverPostgres: true,
}

// validModes is the set of recognized gateway mode values.
var validModes = map[GatewayMode]bool{
	ModeWebhook: true,
	ModeSocket:  true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if !validDrivers[c.StorageDriver] {
		return fmt.Errorf("invalid storage_driver %q: must be sqlite or postgres", c.StorageDriver)
	}
	if c.StorageDriver == DriverPostgres && c.PostgresDSN == "" {
		return fmt.Errorf("postgres_dsn is required when storage_driver is postgres")
	}

	if !validModes[c.GatewayMode] {
		return fmt.Errorf("invalid gateway_mode %q: must be webhook or socket", c.GatewayMode)
	}
	if c.GatewayMode == ModeSocket && c.SocketURL == "" {
		return fmt.Errorf("socket_url is required when gateway_mode is socket")
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive")
	}
	if c.HandlerTimeoutSeconds < 0 {
		return fmt.Errorf("handler_timeout_seconds must be non-negative")
	}
	if c.DrainTimeoutSeconds <= 0 {
		return fmt.Errorf("drain_timeout_seconds must be positive")
	}

	if c.CommandPrefix == "" {
		return fmt.Errorf("command_prefix is required")
	}

	if c.Retry.BaseSeconds <= 0 {
		return fmt.Errorf("retry.base_seconds must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Retry.BatchSize <= 0 {
		return fmt.Errorf("retry.batch_size must be positive")
	}

	return nil
}

// AskAPIKeyEnvVar is where the ask command's model key comes from. Keys
// never live in the config file.
const AskAPIKeyEnvVar = "OPENAI_API_KEY"

// AskAPIKey returns the model provider key from the environment, or empty
// when the ask command should fall back to canned answers.
func AskAPIKey() string {
	return os.Getenv(AskAPIKeyEnvVar)
}

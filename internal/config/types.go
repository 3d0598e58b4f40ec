package config

// StorageDriver identifies where conversation state and the outbox live.
type StorageDriver string

const (
	DriverSQLite   StorageDriver = "sqlite"
	DriverPostgres StorageDriver = "postgres"
)

// GatewayMode selects how platform events arrive.
type GatewayMode string

const (
	// ModeWebhook serves an HTTP endpoint the platform pushes events to.
	ModeWebhook GatewayMode = "webhook"

	// ModeSocket dials out to the platform's streaming endpoint.
	ModeSocket GatewayMode = "socket"
)

// Config is the top-level relaybot configuration, corresponding to .relaybot.yml.
type Config struct {
	Port     int    `yaml:"port" koanf:"port"`
	DataDir  string `yaml:"data_dir" koanf:"data_dir"`
	LogLevel string `yaml:"log_level" koanf:"log_level"`

	StorageDriver StorageDriver `yaml:"storage_driver" koanf:"storage_driver"`
	PostgresDSN   string        `yaml:"postgres_dsn" koanf:"postgres_dsn"`

	GatewayMode   GatewayMode `yaml:"gateway_mode" koanf:"gateway_mode"`
	WebhookSecret string      `yaml:"webhook_secret" koanf:"webhook_secret"`
	SocketURL     string      `yaml:"socket_url" koanf:"socket_url"`
	SocketToken   string      `yaml:"socket_token" koanf:"socket_token"`
	OutboundURL   string      `yaml:"outbound_url" koanf:"outbound_url"`
	OutboundToken string      `yaml:"outbound_token" koanf:"outbound_token"`
	Allow         []string    `yaml:"allow" koanf:"allow"`
	Deny          []string    `yaml:"deny" koanf:"deny"`

	Workers               int `yaml:"workers" koanf:"workers"`
	QueueSize             int `yaml:"queue_size" koanf:"queue_size"`
	HandlerTimeoutSeconds int `yaml:"handler_timeout_seconds" koanf:"handler_timeout_seconds"`
	DrainTimeoutSeconds   int `yaml:"drain_timeout_seconds" koanf:"drain_timeout_seconds"`
	DedupRetentionHours   int `yaml:"dedup_retention_hours" koanf:"dedup_retention_hours"`

	CommandPrefix string `yaml:"command_prefix" koanf:"command_prefix"`
	AskModel      string `yaml:"ask_model" koanf:"ask_model"`

	Retry RetryConfig `yaml:"retry" koanf:"retry"`
}

// RetryConfig tunes outbox delivery retries.
type RetryConfig struct {
	BaseSeconds   int `yaml:"base_seconds" koanf:"base_seconds"`
	MaxSeconds    int `yaml:"max_seconds" koanf:"max_seconds"`
	JitterSeconds int `yaml:"jitter_seconds" koanf:"jitter_seconds"`
	MaxAttempts   int `yaml:"max_attempts" koanf:"max_attempts"`
	PollSeconds   int `yaml:"poll_seconds" koanf:"poll_seconds"`
	BatchSize     int `yaml:"batch_size" koanf:"batch_size"`
}

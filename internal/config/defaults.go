package config

// DefaultConfig returns a Config with sensible defaults: a local SQLite
// store, the webhook gateway, and the retry curve the relay ships with.
func DefaultConfig() *Config {
	return &Config{
		Port:     8080,
		DataDir:  ".relaybot",
		LogLevel: "info",

		StorageDriver: DriverSQLite,
		GatewayMode:   ModeWebhook,

		Workers:               4,
		QueueSize:             256,
		HandlerTimeoutSeconds: 15,
		DrainTimeoutSeconds:   10,
		DedupRetentionHours:   72,

		CommandPrefix: "?",
		AskModel:      "gpt-4o-mini",

		Retry: RetryConfig{
			BaseSeconds:   1,
			MaxSeconds:    300,
			JitterSeconds: 1,
			MaxAttempts:   10,
			PollSeconds:   1,
			BatchSize:     50,
		},
	}
}

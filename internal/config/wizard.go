package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to .relaybot.yml.
func RunWizard() (*Config, error) {
	fmt.Println("Welcome to relaybot! Let's configure your service.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Where conversation state lives.
	storagePrompt := promptui.Select{
		Label: "Select storage driver",
		Items: []string{"sqlite", "postgres"},
	}
	_, driverStr, err := storagePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("storage selection: %w", err)
	}
	cfg.StorageDriver = StorageDriver(driverStr)

	if cfg.StorageDriver == DriverPostgres {
		dsnPrompt := promptui.Prompt{
			Label: "Postgres DSN",
		}
		dsn, err := dsnPrompt.Run()
		if err != nil {
			return nil, fmt.Errorf("postgres dsn: %w", err)
		}
		cfg.PostgresDSN = dsn
	}

	// 2. How events arrive.
	modePrompt := promptui.Select{
		Label: "Select gateway mode",
		Items: []string{
			"webhook — the platform pushes events to /api/events",
			"socket  — relaybot dials the platform's stream",
		},
	}
	modeIdx, _, err := modePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("gateway selection: %w", err)
	}
	modes := []GatewayMode{ModeWebhook, ModeSocket}
	cfg.GatewayMode = modes[modeIdx]

	switch cfg.GatewayMode {
	case ModeWebhook:
		secretPrompt := promptui.Prompt{
			Label:   "Webhook signing secret (blank disables verification)",
			Default: "",
		}
		secret, err := secretPrompt.Run()
		if err != nil {
			return nil, fmt.Errorf("webhook secret: %w", err)
		}
		cfg.WebhookSecret = secret
	case ModeSocket:
		urlPrompt := promptui.Prompt{
			Label: "Socket URL (wss://...)",
		}
		u, err := urlPrompt.Run()
		if err != nil {
			return nil, fmt.Errorf("socket url: %w", err)
		}
		cfg.SocketURL = u

		tokenPrompt := promptui.Prompt{
			Label:   "Socket auth token (blank for none)",
			Default: "",
		}
		token, err := tokenPrompt.Run()
		if err != nil {
			return nil, fmt.Errorf("socket token: %w", err)
		}
		cfg.SocketToken = token
	}

	// 3. Where replies go.
	outboundPrompt := promptui.Prompt{
		Label: "Outbound message endpoint (https://...)",
	}
	outbound, err := outboundPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("outbound endpoint: %w", err)
	}
	cfg.OutboundURL = outbound

	outboundTokenPrompt := promptui.Prompt{
		Label:   "Outbound bearer token (blank for none)",
		Default: "",
	}
	outboundToken, err := outboundTokenPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("outbound token: %w", err)
	}
	cfg.OutboundToken = outboundToken

	// 4. Service port.
	portPrompt := promptui.Prompt{
		Label:    "HTTP port",
		Default:  strconv.Itoa(cfg.Port),
		Validate: validatePort,
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Port, _ = strconv.Atoi(portStr)

	// 5. Command prefix.
	prefixPrompt := promptui.Prompt{
		Label:   "Command prefix",
		Default: cfg.CommandPrefix,
	}
	prefix, err := prefixPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("command prefix: %w", err)
	}
	cfg.CommandPrefix = prefix

	// 6. Conversation filters.
	allowPrompt := promptui.Prompt{
		Label:   "Allowed conversation patterns (comma-separated globs, blank for all)",
		Default: "",
	}
	allowStr, err := allowPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("allow patterns: %w", err)
	}
	cfg.Allow = splitAndTrim(allowStr)

	denyPrompt := promptui.Prompt{
		Label:   "Denied conversation patterns (comma-separated globs, blank for none)",
		Default: "",
	}
	denyStr, err := denyPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("deny patterns: %w", err)
	}
	cfg.Deny = splitAndTrim(denyStr)

	// Check for the ask command's key.
	if os.Getenv(AskAPIKeyEnvVar) == "" {
		fmt.Printf("\nNote: Set %s in your environment to back the ask command with a model; without it replies are canned.\n", AskAPIKeyEnvVar)
	}

	// Save to .relaybot.yml.
	if err := cfg.Save(DefaultPath); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", DefaultPath)
	return cfg, nil
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	if n <= 0 || n > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if token := strings.TrimSpace(part); token != "" {
			result = append(result, token)
		}
	}
	return result
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/symfeed/service/symbol"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// Everything has a default: an account can be chosen later through the API.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Tracking configuration
	Network        symbol.Network
	AccountAddress string
	HistoryLimit   int
	ReconnectDelay time.Duration

	// Endpoint selection
	NodeURL        string
	RankingURL     string
	FallbackNodes  []string
	RankingTimeout time.Duration
	HTTPTimeout    time.Duration

	// Optional sinks
	NATSURL     string
	DatabaseURL string

	// Notifications
	NotifyCommand    string
	SoundUnconfirmed string
	SoundConfirmed   string
	NotifyGap        time.Duration
	NotifyTimeout    time.Duration

	// Signing
	SignerCommand  string
	SignerURL      string
	WriteRateLimit int
}

// Load reads a .env file if one exists, then configuration from environment
// variables, and validates it. All problems are reported together.
func Load() (*Config, error) {
	// A missing .env is fine; the environment may be set externally.
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Tracking configuration
	network, err := symbol.ParseNetwork(getEnvOrDefault("SYMBOL_NETWORK", string(symbol.Mainnet)))
	if err != nil {
		errs = append(errs, fmt.Errorf("SYMBOL_NETWORK: %w", err))
	}
	cfg.Network = network

	if addr := os.Getenv("ACCOUNT_ADDRESS"); addr != "" {
		normalized, addrNetwork, err := symbol.ParseAddress(addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("ACCOUNT_ADDRESS: %w", err))
		} else {
			cfg.AccountAddress = normalized
			// The address prefix decides the network.
			cfg.Network = addrNetwork
		}
	}

	cfg.HistoryLimit, err = parseInt("HISTORY_LIMIT", 50)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.ReconnectDelay, err = parseDuration("RECONNECT_DELAY", "1200ms")
	if err != nil {
		errs = append(errs, err)
	}

	// Endpoint selection
	cfg.NodeURL = os.Getenv("NODE_URL")
	cfg.RankingURL = os.Getenv("RANKING_URL")
	cfg.FallbackNodes = parseList("FALLBACK_NODES")
	cfg.RankingTimeout, err = parseDuration("RANKING_TIMEOUT", "1500ms")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.HTTPTimeout, err = parseDuration("HTTP_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	}

	// Optional sinks; empty disables them.
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	// Notifications
	cfg.NotifyCommand = os.Getenv("NOTIFY_COMMAND")
	cfg.SoundUnconfirmed = os.Getenv("SOUND_UNCONFIRMED")
	cfg.SoundConfirmed = os.Getenv("SOUND_CONFIRMED")
	cfg.NotifyGap, err = parseDuration("NOTIFY_GAP", "100ms")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.NotifyTimeout, err = parseDuration("NOTIFY_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	}

	// Signing
	cfg.SignerCommand = os.Getenv("SIGNER_COMMAND")
	cfg.SignerURL = os.Getenv("SIGNER_URL")
	cfg.WriteRateLimit, err = parseInt("WRITE_RATE_LIMIT", 30)
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return nil, fmt.Errorf("configuration validation failed: %v", errs)
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerAddr == "" {
		errs = append(errs, fmt.Errorf("ServerAddr is required"))
	}

	if c.Network != symbol.Mainnet && c.Network != symbol.Testnet {
		errs = append(errs, fmt.Errorf("Network %q is not supported", c.Network))
	}

	if c.HistoryLimit < 1 || c.HistoryLimit > 100 {
		errs = append(errs, fmt.Errorf("HistoryLimit must be between 1 and 100"))
	}

	if c.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("ReconnectDelay must be positive"))
	}

	if c.RankingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RankingTimeout must be positive"))
	}

	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTPTimeout must be positive"))
	}

	if c.NotifyGap < 0 {
		errs = append(errs, fmt.Errorf("NotifyGap cannot be negative"))
	}

	if c.NotifyTimeout < 0 {
		errs = append(errs, fmt.Errorf("NotifyTimeout cannot be negative"))
	}

	for name, raw := range map[string]string{"NodeURL": c.NodeURL, "RankingURL": c.RankingURL, "SignerURL": c.SignerURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s %q is not an absolute URL", name, raw))
		}
	}

	if c.SignerCommand != "" && c.SignerURL != "" {
		errs = append(errs, fmt.Errorf("SignerCommand and SignerURL are mutually exclusive"))
	}

	if c.WriteRateLimit < 1 {
		errs = append(errs, fmt.Errorf("WriteRateLimit must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma-separated variable, dropping empty items.
func parseList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

package config

import (
	"os"
	"testing"
	"time"

	"github.com/brojonat/symfeed/service/symbol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"SERVER_ADDR", "LOG_LEVEL", "SYMBOL_NETWORK", "ACCOUNT_ADDRESS", "NODE_URL",
	"RANKING_URL", "FALLBACK_NODES", "RANKING_TIMEOUT", "RECONNECT_DELAY",
	"HISTORY_LIMIT", "HTTP_TIMEOUT", "NATS_URL", "DATABASE_URL", "NOTIFY_COMMAND",
	"SOUND_UNCONFIRMED", "SOUND_CONFIRMED", "NOTIFY_GAP", "NOTIFY_TIMEOUT", "SIGNER_COMMAND",
	"SIGNER_URL", "WRITE_RATE_LIMIT",
}

func cleanupEnv() {
	for _, k := range envKeys {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cleanupEnv()
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, symbol.Mainnet, cfg.Network)
	assert.Empty(t, cfg.AccountAddress)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, 1200*time.Millisecond, cfg.ReconnectDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.RankingTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.NotifyGap)
	assert.Equal(t, 30*time.Second, cfg.NotifyTimeout)
	assert.Equal(t, 30, cfg.WriteRateLimit)
	assert.Empty(t, cfg.NATSURL)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Nil(t, cfg.FallbackNodes)
}

func TestLoad_CustomValues(t *testing.T) {
	cleanupEnv()
	defer cleanupEnv()

	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("SYMBOL_NETWORK", "testnet")
	os.Setenv("NODE_URL", "https://node.example:3001")
	os.Setenv("FALLBACK_NODES", "https://a:3001, ,https://b:3001")
	os.Setenv("HISTORY_LIMIT", "20")
	os.Setenv("RECONNECT_DELAY", "3s")
	os.Setenv("NOTIFY_GAP", "250ms")
	os.Setenv("NOTIFY_TIMEOUT", "5s")
	os.Setenv("SIGNER_URL", "http://localhost:7777/sign")
	os.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, symbol.Testnet, cfg.Network)
	assert.Equal(t, "https://node.example:3001", cfg.NodeURL)
	assert.Equal(t, []string{"https://a:3001", "https://b:3001"}, cfg.FallbackNodes)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.NotifyGap)
	assert.Equal(t, 5*time.Second, cfg.NotifyTimeout)
	assert.Equal(t, "http://localhost:7777/sign", cfg.SignerURL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestLoad_AccountAddressDecidesNetwork(t *testing.T) {
	cleanupEnv()
	defer cleanupEnv()

	os.Setenv("SYMBOL_NETWORK", "mainnet")
	os.Setenv("ACCOUNT_ADDRESS", "tbwuiu-mdl3sr-hxivvj-f5gjjp-3wxww2-sy2pys-2ta")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "TBWUIUMDL3SRHXIVVJF5GJJP3WXWW2SY2PYS2TA", cfg.AccountAddress)
	assert.Equal(t, symbol.Testnet, cfg.Network)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "bad network", env: map[string]string{"SYMBOL_NETWORK": "devnet"}, wantErr: "SYMBOL_NETWORK"},
		{name: "bad address", env: map[string]string{"ACCOUNT_ADDRESS": "NOPE"}, wantErr: "ACCOUNT_ADDRESS"},
		{name: "bad duration", env: map[string]string{"RECONNECT_DELAY": "soon"}, wantErr: "invalid duration"},
		{name: "bad integer", env: map[string]string{"HISTORY_LIMIT": "many"}, wantErr: "invalid integer"},
		{name: "history too large", env: map[string]string{"HISTORY_LIMIT": "500"}, wantErr: "HistoryLimit"},
		{name: "relative node url", env: map[string]string{"NODE_URL": "node:3001"}, wantErr: "NodeURL"},
		{
			name:    "two signers",
			env:     map[string]string{"SIGNER_COMMAND": "sign", "SIGNER_URL": "http://localhost/sign"},
			wantErr: "mutually exclusive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanupEnv()
			defer cleanupEnv()
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		ServerAddr:     ":8080",
		Network:        symbol.Testnet,
		HistoryLimit:   50,
		ReconnectDelay: time.Second,
		RankingTimeout: time.Second,
		HTTPTimeout:    time.Second,
		WriteRateLimit: 10,
	}
	require.NoError(t, cfg.Validate())

	cfg.Network = "devnet"
	cfg.NotifyGap = -time.Second
	cfg.NotifyTimeout = -time.Second
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
	assert.Contains(t, err.Error(), "NotifyGap")
	assert.Contains(t, err.Error(), "NotifyTimeout")
}

func TestMustLoad_Panics(t *testing.T) {
	cleanupEnv()
	defer cleanupEnv()
	os.Setenv("HISTORY_LIMIT", "0")

	assert.Panics(t, func() { MustLoad() })
}

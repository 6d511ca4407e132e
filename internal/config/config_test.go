package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDevelopmentChainSet(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DATABASE_URL", "postgres://localhost/ethhook")
	t.Setenv("ETHEREUM_SEPOLIA_WS_URL", "wss://sepolia.example/ws")

	cfg, err := Load("ingestor", nil, "message_processors")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	require.Len(t, cfg.Chains, 1)
	assert.Equal(t, uint64(11155111), cfg.Chains[0].ChainID)
	assert.Equal(t, "wss://sepolia.example/ws", cfg.Chains[0].WSURL)
}

func TestLoadMissingDatabaseURLIsConfigError(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("ETHEREUM_SEPOLIA_WS_URL", "wss://sepolia.example/ws")

	_, err := Load("ingestor", nil, "message_processors")
	require.Error(t, err)
}

func TestLoadMissingChainWSURLIsConfigError(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DATABASE_URL", "postgres://localhost/ethhook")

	_, err := Load("ingestor", nil, "message_processors")
	require.Error(t, err)
}

func TestLoadUnknownEnvironmentIsConfigError(t *testing.T) {
	t.Setenv("ENVIRONMENT", "nonexistent")
	t.Setenv("DATABASE_URL", "postgres://localhost/ethhook")

	_, err := Load("ingestor", nil, "message_processors")
	require.Error(t, err)
}

func TestDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DATABASE_URL", "postgres://localhost/ethhook")
	t.Setenv("ETHEREUM_SEPOLIA_WS_URL", "wss://sepolia.example/ws")

	cfg, err := Load("ingestor", nil, "message_processors")
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.WorkerCount)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "message_processors", cfg.ConsumerGroup)
}

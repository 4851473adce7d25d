package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "AI-assist", cfg.RAGFlow.AssistantName)
	assert.Equal(t, []string{"bob", "david", "alice", "tom", "john", "jerry", "jerry"}, cfg.AgentChat.Agents)
	assert.Equal(t, 5*time.Second, cfg.Chat.IdleInterval)
	assert.Equal(t, 30*time.Second, cfg.Chat.PeekTimeout)
	assert.Equal(t, int64(1000), cfg.Chat.StreamMaxLen)
	assert.Equal(t, 24*time.Hour, cfg.Chat.SessionTTL)
	assert.Equal(t, ":8000", cfg.Webhook.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment = "test"

[redis]
host = "redis.internal"
port = 6380

[chat]
peek_timeout = "10s"

[webhook]
token = "secret"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, 10*time.Second, cfg.Chat.PeekTimeout)
	assert.Equal(t, "secret", cfg.Webhook.Token)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.Chat.IdleInterval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[redis]
host = "from-file"
`), 0o600))

	t.Setenv("CONCIERGE_REDIS_HOST", "from-env")
	t.Setenv("CONCIERGE_ENVIRONMENT", "test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Redis.Host)
	assert.Equal(t, "test", cfg.Environment)
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.AgentChat.Agents = nil
	assert.Error(t, cfg.Validate())

	cfg, err = Load("")
	require.NoError(t, err)
	cfg.Chat.SessionTTL = 0
	assert.Error(t, cfg.Validate())

	cfg, err = Load("")
	require.NoError(t, err)
	cfg.Chat.StreamMaxLen = -1
	assert.Error(t, cfg.Validate())
}

func TestRedisDB(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Redis.DBIndexDev = 0
	cfg.Redis.DBIndexTest = 1

	cfg.Environment = "dev"
	db, known := cfg.RedisDB()
	assert.Equal(t, 0, db)
	assert.True(t, known)

	cfg.Environment = "test"
	db, known = cfg.RedisDB()
	assert.Equal(t, 1, db)
	assert.True(t, known)

	cfg.Environment = "staging"
	db, known = cfg.RedisDB()
	assert.Equal(t, 0, db, "unknown environments fall back to the dev index")
	assert.False(t, known)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("SESAME_TOKEN", "")
	t.Setenv("SESSION_SECRET", "secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESAME_TOKEN")
}

func TestLoadRequiresSessionSecret(t *testing.T) {
	t.Setenv("SESAME_TOKEN", "token")
	t.Setenv("SESSION_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_SECRET")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESAME_TOKEN", "token")
	t.Setenv("SESSION_SECRET", "secret")
	t.Setenv("SESAME_REGION", "")
	t.Setenv("SESAME_BASE_URL", "")
	t.Setenv("CLOCKSHEET_QUEUE_MODE", "")
	t.Setenv("CLOCKSHEET_FETCH_WORKERS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://api-eu1.sesametime.com", cfg.BaseURL())
	assert.Equal(t, 500, cfg.APIPageSize)
	assert.Equal(t, 10, cfg.MaxReports)
	assert.Equal(t, 30*time.Minute, cfg.OrphanTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.JobRetention)
	assert.Equal(t, QueueInProcess, cfg.QueueMode)
	assert.Equal(t, 5, cfg.FetchWorkers)
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoadClampsFetchWorkers(t *testing.T) {
	t.Setenv("SESAME_TOKEN", "token")
	t.Setenv("SESSION_SECRET", "secret")
	t.Setenv("CLOCKSHEET_QUEUE_MODE", "")
	t.Setenv("CLOCKSHEET_FETCH_WORKERS", "64")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.FetchWorkers)
}

func TestLoadAsynqNeedsRedis(t *testing.T) {
	t.Setenv("SESAME_TOKEN", "token")
	t.Setenv("SESSION_SECRET", "secret")
	t.Setenv("CLOCKSHEET_QUEUE_MODE", "asynq")
	t.Setenv("REDIS_ADDR", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadAsynqNeedsDatabase(t *testing.T) {
	t.Setenv("SESAME_TOKEN", "token")
	t.Setenv("SESSION_SECRET", "secret")
	t.Setenv("CLOCKSHEET_QUEUE_MODE", "asynq")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

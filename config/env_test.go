package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("WM_MODE", "prod")
	t.Setenv("WM_PARALLELISM", "3")
	t.Setenv("WM_DOWNLOAD_WORKERS", "40")
	t.Setenv("WM_IDEMPOTENCY", "all")

	env, err := Load("does-not-exist.env")
	require.NoError(t, err)

	assert.Equal(t, "prod", env.Mode)
	assert.Equal(t, 3, env.Parallelism)
	assert.Equal(t, 40, env.DownloadWorkers)
	assert.Equal(t, 10, env.UploadWorkers)
	assert.True(t, UseCachedResponses(env.Idempotency))
	assert.True(t, UseQueueIdempotency(env.Idempotency))
}

func TestLoadRejectsUnknownIdempotency(t *testing.T) {
	t.Setenv("WM_MODE", "dev")
	t.Setenv("WM_IDEMPOTENCY", "sometimes")

	_, err := Load("does-not-exist.env")
	assert.Error(t, err)
}

func TestEnvironmentStringRedactsSecret(t *testing.T) {
	env := Environment{PushSecretKey: "hunter2"}
	assert.NotContains(t, env.String(), "hunter2")
}

func TestIdempotencyModes(t *testing.T) {
	assert.False(t, UseQueueIdempotency(IdempotencyNone))
	assert.True(t, UseQueueIdempotency(IdempotencyQueue))
	assert.False(t, UseCachedResponses(IdempotencyQueue))
}

func TestLoadPauseWindow(t *testing.T) {
	t.Setenv("WM_MODE", "dev")
	t.Setenv("WM_PAUSE_TIME", "2021-01-01T22:00:00Z")

	_, err := Load("does-not-exist.env")
	assert.Error(t, err)

	t.Setenv("WM_RESUME_TIME", "06:00")
	_, err = Load("does-not-exist.env")
	assert.Error(t, err)

	t.Setenv("WM_RESUME_TIME", "2021-01-02T06:00:00Z")
	env, err := Load("does-not-exist.env")
	require.NoError(t, err)
	assert.Equal(t, "2021-01-01T22:00:00Z", env.PauseTime)
}

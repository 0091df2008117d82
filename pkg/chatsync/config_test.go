package chatsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshalYAML(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(`
poll_interval: 2s
max_poll_delay: 1m
max_attempts: 5
profile_cache_ttl: 10m
`), &cfg))

	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Minute, cfg.MaxPollDelay)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.ProfileCacheTTL)

	cfg = cfg.withDefaults()
	assert.Equal(t, DefaultPageSize, cfg.PageSize)
	assert.Equal(t, DefaultProfileCacheCapacity, cfg.ProfileCacheCapacity)
}

func TestConfigUnmarshalYAMLBadDuration(t *testing.T) {
	var cfg Config
	err := yaml.Unmarshal([]byte("poll_interval: fast"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval")
}

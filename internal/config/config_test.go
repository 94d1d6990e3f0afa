package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	// Redis stays off until a deployment opts in; the address default alone
	// must not enable it.
	assert.False(t, cfg.Redis.Enabled)
	assert.NotEmpty(t, cfg.Redis.Address)

	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.HeartbeatInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Messages.BatchInterval)
	assert.Equal(t, 2*time.Second, cfg.Messages.DedupWindow)
	assert.Equal(t, 100, cfg.Rooms.MaxParticipants)
}

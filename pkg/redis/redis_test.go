package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigNew(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := Config{URL: "redis://" + mr.Addr(), ReadTimeout: 1, WriteTimeout: 1, DialTimeout: 1, PoolSize: 4}
	require.True(t, cfg.Enabled())

	client, err := cfg.New()
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 4, client.Options().PoolSize)
}

func TestConfigNewErrors(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"invalid scheme", "invalid://url"},
		{"unreachable", "redis://127.0.0.1:1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{URL: tt.url, DialTimeout: 1}
			_, err := cfg.New()
			assert.Error(t, err)
		})
	}

	assert.False(t, (&Config{}).Enabled())
}

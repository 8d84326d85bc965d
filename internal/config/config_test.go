package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/latchctl/internal/errors"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	vp := viper.New()
	SetDefaults(vp)
	if yaml != "" {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
		vp.SetConfigFile(path)
		require.NoError(t, vp.ReadInConfig())
	}
	return vp
}

func TestDefaults(t *testing.T) {
	c, err := Load(newViper(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "74hc595", c.Latch.Driver)
	assert.Equal(t, 8, c.Latch.Channels)
	assert.Equal(t, "active_high", c.Latch.Polarity)
	assert.Equal(t, 100*time.Millisecond, c.Latch.LockTimeout)
	assert.Equal(t, 23, c.Latch.Shift.DataPin)
	assert.Equal(t, 18, c.Latch.Shift.ClockPin)
	assert.Equal(t, 19, c.Latch.Shift.LatchPin)
	assert.Equal(t, -1, c.Latch.Shift.OEPin)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "/ws", c.WebSocket.Path)
	assert.False(t, c.Database.Enabled)
	assert.False(t, c.Security.Auth.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	c, err := Load(newViper(t, `
latch:
  driver: 74hc373
  channels: 4
  polarity: active_low
  parallel:
    data_pins: [2, 3, 4, 5]
    enable_pin: 6
server:
  port: 9090
`))
	require.NoError(t, err)

	assert.Equal(t, "74hc373", c.Latch.Driver)
	assert.Equal(t, 4, c.Latch.Channels)
	assert.Equal(t, "active_low", c.Latch.Polarity)
	assert.Equal(t, []int{2, 3, 4, 5}, c.Latch.Parallel.DataPins)
	assert.Equal(t, 6, c.Latch.Parallel.EnablePin)
	assert.Equal(t, 9090, c.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"channels zero", "latch:\n  channels: 0\n"},
		{"channels too many", "latch:\n  channels: 33\n"},
		{"bad polarity", "latch:\n  polarity: inverted\n"},
		{"short polarity alias", "latch:\n  polarity: low\n"},
		{"zero lock timeout", "latch:\n  lock_timeout: 0s\n"},
		{"parallel pins short", "latch:\n  driver: 74hc373\n  channels: 8\n  parallel:\n    data_pins: [0, 1, 2, 3]\n"},
		{"auth without secret", "security:\n  auth:\n    enabled: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newViper(t, tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfigValidate), "got %v", err)
		})
	}
}

func TestValidateParallelPinsCoverChannels(t *testing.T) {
	c, err := Load(newViper(t, "latch:\n  driver: 74HC373\n  channels: 4\n  parallel:\n    data_pins: [0, 1, 2, 3]\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, c.Latch.Channels)

	// 串行驱动不需要数据脚
	_, err = Load(newViper(t, "latch:\n  driver: 74hc595\n  channels: 8\n"))
	assert.NoError(t, err)
}

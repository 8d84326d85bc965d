package logger

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/latchctl/internal/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// observe 把全局和 hardware 模块日志器替换成可观察的 core
func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	observed := zap.New(core)

	mu.Lock()
	prevLogger, prevModules := logger, moduleLoggers
	logger = observed
	moduleLoggers = map[string]*zap.Logger{"hardware": observed}
	mu.Unlock()

	t.Cleanup(func() {
		mu.Lock()
		logger, moduleLoggers = prevLogger, prevModules
		mu.Unlock()
	})
	return logs
}

func TestLogDriverCommitLevels(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level zapcore.Level
		msg   string
	}{
		{"ok", nil, zapcore.DebugLevel, "driver_commit"},
		{"single write failure", errors.New(errors.ErrCommitFailed, "bus"), zapcore.WarnLevel, "driver_commit_failed"},
		{"plain error", fmt.Errorf("short write"), zapcore.WarnLevel, "driver_commit_failed"},
		{"port lost", errors.New(errors.ErrSerialPortOpen, "/dev/ttyUSB0"), zapcore.ErrorLevel, "driver_commit_failed"},
		{"driver lost", errors.New(errors.ErrDriverMissing), zapcore.ErrorLevel, "driver_commit_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := observe(t)
			LogDriverCommit("Mock Latch Driver", 0x0F, 8, time.Millisecond, tt.err)

			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)
			assert.Equal(t, tt.msg, entries[0].Message)
			assert.Equal(t, "0x0000000F", entries[0].ContextMap()["word"])
		})
	}
}

func TestLogErrorAddsCode(t *testing.T) {
	logs := observe(t)

	LogError(errors.New(errors.ErrCommitFailed), "request_failed", zap.String("path", "/api/set"))
	LogError(fmt.Errorf("boom"), "request_failed")

	entries := logs.All()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, int64(errors.ErrCommitFailed), first["code"])
	assert.Equal(t, "/api/set", first["path"])

	second := entries[1].ContextMap()
	assert.NotContains(t, second, "code")
	assert.Equal(t, "boom", second["error"])
}

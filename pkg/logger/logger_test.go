package logger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New("loud")
	assert.Error(t, err)
}

func TestNewWithOptions_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	log, err := NewWithOptions(Options{Level: "debug", Format: "console", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	log.Debugw("hello", "k", "v")
	_ = log.Sync()
	assert.FileExists(t, path)
}

func TestContextLogger_WithContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithConnectionID(WithUserID(context.Background(), "alice"), "conn-1")
	cl.LogInfo(ctx, "bound")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "alice", fields["user_id"])
	assert.Equal(t, "conn-1", fields["connection_id"])
	_, hasTrace := fields["trace_id"]
	assert.False(t, hasTrace)
}

package logging

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// resetLogger resets the global logger instance for testing
func resetLogger() {
	logger = nil
	once = sync.Once{}
}

func TestGetLogger_Fallback(t *testing.T) {
	resetLogger()
	l := GetLogger()
	assert.NotNil(t, l, "GetLogger should return a fallback logger if not initialized")
}

func TestGetLogger_Singleton(t *testing.T) {
	resetLogger()
	err := Initialize(true)
	assert.NoError(t, err)

	l1 := GetLogger()
	l2 := GetLogger()

	assert.NotNil(t, l1)
	assert.Equal(t, l1, l2, "GetLogger should return the same instance after initialization")
}

func TestContextFields(t *testing.T) {
	resetLogger()

	core, logs := observer.New(zap.InfoLevel)
	logger = zap.New(core)

	Info(context.Background(), "plain")
	assert.Equal(t, 1, logs.Len())
	assert.Equal(t, "plain", logs.All()[0].Message)

	ctx := context.WithValue(context.Background(), RoomIDKey, "ABC123")
	ctx = context.WithValue(ctx, SessionIDKey, "sess-1")

	Info(ctx, "scoped")

	entry := logs.All()[1]
	fields := entry.ContextMap()
	assert.Equal(t, "ABC123", fields["room_id"])
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.Equal(t, "collab-server", fields["service"])
}

func TestHelperMethods(t *testing.T) {
	resetLogger()

	core, logs := observer.New(zap.DebugLevel)
	logger = zap.New(core)

	ctx := context.Background()

	Info(ctx, "info msg", zap.String("key", "val"))
	Warn(ctx, "warn msg")
	Error(ctx, "error msg")

	assert.Equal(t, 3, logs.Len())
	assert.Equal(t, "val", logs.All()[0].ContextMap()["key"])
}

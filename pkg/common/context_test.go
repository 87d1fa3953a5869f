package common

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSessionID(t *testing.T) {
	ctx := context.Background()

	_, ok := SessionID(ctx)
	assert.False(t, ok)

	ctx = WithSessionID(ctx, "sess-42")
	id, ok := SessionID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "sess-42", id)
}

func TestFields(t *testing.T) {
	assert.Empty(t, Fields(context.Background()))

	ctx := WithTool(WithSessionID(context.Background(), "sess-42"), "run_query")
	fields := Fields(ctx)
	assert.Equal(t, []zap.Field{
		zap.String("session_id", "sess-42"),
		zap.String("tool", "run_query"),
	}, fields)
}

func TestFields_IgnoresEmptyTags(t *testing.T) {
	ctx := WithSessionID(context.Background(), "")
	assert.Empty(t, Fields(ctx))
}

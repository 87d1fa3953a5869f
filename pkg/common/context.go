// Package common carries cross-layer request correlation. Identifiers ride
// the context so infrastructure logs can be tied back to the conversation
// that triggered the work without widening every signature on the way down.
package common

import (
	"context"

	"go.uber.org/zap"
)

type sessionKey struct{}
type toolKey struct{}

// WithSessionID tags ctx with the conversation session driving this work
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionID extracts the session tag
func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}

// WithTool tags ctx with the assistant tool whose execution it serves
func WithTool(ctx context.Context, tool string) context.Context {
	return context.WithValue(ctx, toolKey{}, tool)
}

// Tool extracts the tool tag
func Tool(ctx context.Context) (string, bool) {
	tool, ok := ctx.Value(toolKey{}).(string)
	return tool, ok && tool != ""
}

// Fields renders the correlation tags present in ctx as log fields. Untagged
// contexts yield nothing, so callers can append unconditionally.
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id, ok := SessionID(ctx); ok {
		fields = append(fields, zap.String("session_id", id))
	}
	if tool, ok := Tool(ctx); ok {
		fields = append(fields, zap.String("tool", tool))
	}
	return fields
}

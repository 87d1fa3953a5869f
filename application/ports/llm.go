package ports

import "context"

// Chat message roles on the provider wire
const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
	ChatRoleTool      = "tool"
)

// ToolDefinition describes a tool the model can invoke
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolCall is a tool invocation requested by the model
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ChatMessage is one entry of the completion transcript. Tool results are
// fed back as role "tool" with the originating call id.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// CompletionRequest carries one model invocation of the tool loop
type CompletionRequest struct {
	System      string           `json:"system"`
	Messages    []ChatMessage    `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

// TokenUsage captures token accounting reported by the provider
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is the model's reply: text, requested tool calls, or both
type Completion struct {
	Text       string     `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls"`
	StopReason string     `json:"stop_reason"`
	Usage      TokenUsage `json:"usage"`
}

// LLMProvider abstracts a tool-calling chat model. Implementations enforce
// the per-invocation deadline and surface provider failures as timeout or
// backend-unavailable errors.
type LLMProvider interface {
	// Complete runs one model invocation and returns the full reply
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// CompleteStream runs one invocation delivering text deltas through
	// onToken as they arrive, then returns the assembled reply. Providers
	// without streaming support may deliver the text as a single delta.
	CompleteStream(ctx context.Context, req CompletionRequest, onToken func(delta string)) (*Completion, error)
}

// Package assistant runs the conversational exploration agent: a
// tool-calling loop over the repository and graph cache, with per-session
// turn serialization and optional event streaming.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"datalens/application/ports"
	"datalens/domain/conversation"
	"datalens/pkg/common"
	apperrors "datalens/pkg/errors"
	"datalens/pkg/extensions"
	"datalens/pkg/observability"
)

const (
	// DefaultLLMTimeout bounds one model invocation within a turn
	DefaultLLMTimeout = 60 * time.Second

	// defaultMaxRounds bounds tool-call rounds per turn. A round is one
	// model invocation plus the tool executions it requested.
	defaultMaxRounds = 8

	// clarificationThreshold is the number of failed tool calls in one
	// turn after which the assistant asks the user instead of retrying.
	clarificationThreshold = 2
)

const systemPreamble = `You are a data exploration assistant for an enterprise data platform.
You answer questions about data products, their schemas, and their contents.
Use the available tools to ground every factual claim; never invent tables,
columns, or values. Queries must be read-only SELECT or WITH statements, and
data products are referenced as {{ProductName}}.

Reply with a single JSON object:
{"message": "...", "confidence": 0.0-1.0, "sources": ["..."],
 "suggested_actions": ["..."], "requires_clarification": false}`

// Options configures an Orchestrator
type Options struct {
	// PhysicalName adapts logical product names for the context blurb.
	// Nil means logical and physical names coincide.
	PhysicalName func(product string) string

	// LLMTimeout bounds each model invocation. Zero selects the default.
	LLMTimeout time.Duration

	// MaxRounds bounds tool rounds per turn. Zero selects the default.
	MaxRounds int

	// Window is how many trailing messages feed the model per turn. Zero
	// selects the domain default.
	Window int

	Hooks   *extensions.HookManager
	Metrics *observability.Collector
	Logger  *zap.Logger
}

// Orchestrator drives assistant turns. One turn per session runs at a time;
// a second concurrent turn is rejected with a conflict.
type Orchestrator struct {
	store    ports.ConversationStore
	llm      ports.LLMProvider
	tools    *Toolset
	physical func(product string) string

	llmTimeout time.Duration
	maxRounds  int
	window     int

	hooks   *extensions.HookManager
	metrics *observability.Collector
	logger  *zap.Logger

	mu    sync.Mutex
	turns map[string]*sync.Mutex
}

// NewOrchestrator wires the turn loop over its collaborators
func NewOrchestrator(store ports.ConversationStore, llm ports.LLMProvider, tools *Toolset, opts Options) *Orchestrator {
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = DefaultLLMTimeout
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = defaultMaxRounds
	}
	if opts.Window <= 0 {
		opts.Window = conversation.DefaultWindow
	}
	if opts.PhysicalName == nil {
		opts.PhysicalName = func(product string) string { return product }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		store:      store,
		llm:        llm,
		tools:      tools,
		physical:   opts.PhysicalName,
		llmTimeout: opts.LLMTimeout,
		maxRounds:  opts.MaxRounds,
		window:     opts.Window,
		hooks:      opts.Hooks,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		turns:      make(map[string]*sync.Mutex),
	}
}

// StartConversation opens a session pinned to the given exploration context
func (o *Orchestrator) StartConversation(ctx context.Context, sessionCtx conversation.Context) (*conversation.Session, error) {
	if sessionCtx.DataSource != "" {
		products, err := o.tools.repo.ListProducts(ctx)
		if err != nil {
			return nil, err
		}
		sources := make([]string, 0, len(products))
		seen := map[string]struct{}{}
		for _, p := range products {
			if _, dup := seen[p.Source]; p.Source != "" && !dup {
				seen[p.Source] = struct{}{}
				sources = append(sources, p.Source)
			}
		}
		if err := conversation.ValidateContext(sessionCtx, sources); err != nil {
			return nil, err
		}
	}
	return o.store.Create(ctx, sessionCtx)
}

// Conversation returns a snapshot of the session transcript
func (o *Orchestrator) Conversation(ctx context.Context, sessionID string) (*conversation.Session, error) {
	return o.store.Get(ctx, sessionID)
}

// EndConversation deletes the session and its turn lock
func (o *Orchestrator) EndConversation(ctx context.Context, sessionID string) error {
	if err := o.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.turns, sessionID)
	o.mu.Unlock()
	return nil
}

// ContextBlurb renders the session's exploration context as prompt prose
func (o *Orchestrator) ContextBlurb(ctx context.Context, sessionID string) (string, error) {
	session, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return o.blurb(session.Context), nil
}

// Converse runs one turn and returns the assembled response
func (o *Orchestrator) Converse(ctx context.Context, sessionID, userText string) (*Response, error) {
	return o.turn(ctx, sessionID, userText, nil)
}

// ConverseStream runs one turn, emitting tool and token events as the turn
// progresses, and returns the assembled response.
func (o *Orchestrator) ConverseStream(ctx context.Context, sessionID, userText string, sink EventSink) (*Response, error) {
	return o.turn(ctx, sessionID, userText, sink)
}

// acquireTurn takes the session's turn slot without blocking
func (o *Orchestrator) acquireTurn(sessionID string) (func(), error) {
	o.mu.Lock()
	lock, ok := o.turns[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.turns[sessionID] = lock
	}
	o.mu.Unlock()

	if !lock.TryLock() {
		return nil, apperrors.NewConflictError("a turn is already running for session " + sessionID)
	}
	return lock.Unlock, nil
}

func (o *Orchestrator) turn(ctx context.Context, sessionID, userText string, sink EventSink) (*Response, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, apperrors.NewValidationError("message cannot be empty")
	}

	release, err := o.acquireTurn(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Everything the turn touches logs under this session tag
	ctx = common.WithSessionID(ctx, sessionID)

	session, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.TurnsStarted.Inc()
	}
	if o.hooks != nil {
		o.hooks.ExecuteAsync(ctx, extensions.HookTurnStarted, extensions.TurnEvent{SessionID: sessionID})
	}

	// The user message lands before any model work: an aborted turn keeps
	// the question, never a half-finished answer.
	if _, err := o.store.Append(ctx, sessionID, conversation.RoleUser, userText, nil); err != nil {
		return nil, err
	}

	history, err := o.store.History(ctx, sessionID, o.window)
	if err != nil {
		return nil, err
	}

	req := ports.CompletionRequest{
		System:      o.systemPrompt(session.Context),
		Messages:    transcriptMessages(history),
		Tools:       o.tools.Definitions(),
		Temperature: 0.2,
	}

	var (
		failures  int
		sources   []string
		toolsUsed []string
	)

	for round := 0; round < o.maxRounds; round++ {
		completion, err := o.invoke(ctx, req, sink)
		if err != nil {
			return nil, err
		}

		if len(completion.ToolCalls) == 0 {
			response := ParseResponse(completion.Text)
			if failures >= clarificationThreshold {
				response.RequiresClarification = true
			}
			response.Sources = mergeSources(response.Sources, sources)
			return o.finish(ctx, sessionID, response, toolsUsed, sink)
		}

		// Echo the model's turn back into the transcript before the
		// tool results, as the wire dialect requires.
		req.Messages = append(req.Messages, ports.ChatMessage{
			Role:      ports.ChatRoleAssistant,
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		})

		for _, call := range completion.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			toolsUsed = append(toolsUsed, call.Name)
			if sink != nil {
				sink(Event{Type: EventToolStart, Tool: call.Name, Input: call.Input})
			}

			result, runErr := o.tools.Run(common.WithTool(ctx, call.Name), call, session.Context)
			if runErr != nil {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				failures++
				o.observeTool(ctx, sessionID, call.Name, runErr)
				req.Messages = append(req.Messages, toolMessage(call.ID, map[string]interface{}{
					"error": runErr.Error(),
				}))
				if sink != nil {
					sink(Event{Type: EventToolEnd, Tool: call.Name, Error: runErr.Error()})
				}
				continue
			}

			sources = mergeSources(sources, result.Sources)
			o.observeTool(ctx, sessionID, call.Name, nil)
			req.Messages = append(req.Messages, toolMessage(call.ID, result.Payload))
			if sink != nil {
				sink(Event{Type: EventToolEnd, Tool: call.Name})
			}
		}
	}

	// Round budget exhausted without a final answer
	response := Response{
		Message:               "I could not complete this request with the available tools. Could you narrow down what you are looking for?",
		Confidence:            0,
		Sources:               sources,
		RequiresClarification: true,
	}
	return o.finish(ctx, sessionID, response, toolsUsed, sink)
}

// invoke runs one model call under the per-invocation deadline
func (o *Orchestrator) invoke(ctx context.Context, req ports.CompletionRequest, sink EventSink) (*ports.Completion, error) {
	llmCtx, cancel := context.WithTimeout(ctx, o.llmTimeout)
	defer cancel()

	if sink == nil {
		return o.llm.Complete(llmCtx, req)
	}
	return o.llm.CompleteStream(llmCtx, req, func(delta string) {
		sink(Event{Type: EventToken, Delta: delta})
	})
}

// finish persists the assistant message and emits the final event
func (o *Orchestrator) finish(ctx context.Context, sessionID string, response Response, toolsUsed []string, sink EventSink) (*Response, error) {
	metadata := map[string]interface{}{
		"confidence": response.Confidence,
	}
	if len(response.Sources) > 0 {
		metadata["sources"] = response.Sources
	}
	if len(toolsUsed) > 0 {
		metadata["tools_used"] = toolsUsed
	}

	if _, err := o.store.Append(ctx, sessionID, conversation.RoleAssistant, response.Message, metadata); err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.TurnsCompleted.Inc()
	}
	if o.hooks != nil {
		o.hooks.ExecuteAsync(ctx, extensions.HookTurnCompleted, extensions.TurnEvent{SessionID: sessionID})
	}
	if sink != nil {
		sink(Event{Type: EventFinal, Response: &response})
	}

	o.logger.Info("turn completed",
		zap.String("session_id", sessionID),
		zap.Int("tools_used", len(toolsUsed)),
		zap.Float64("confidence", response.Confidence))
	return &response, nil
}

func (o *Orchestrator) observeTool(ctx context.Context, sessionID, tool string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		o.logger.Warn("tool call failed",
			zap.String("session_id", sessionID),
			zap.String("tool", tool),
			zap.Error(err))
	}
	if o.metrics != nil {
		o.metrics.ToolCalls.WithLabelValues(tool, status).Inc()
	}
	if o.hooks != nil {
		o.hooks.ExecuteAsync(ctx, extensions.HookToolExecuted, extensions.TurnEvent{
			SessionID: sessionID,
			Tool:      tool,
			Failed:    err != nil,
		})
	}
}

func (o *Orchestrator) systemPrompt(sessionCtx conversation.Context) string {
	blurb := o.blurb(sessionCtx)
	if blurb == "" {
		return systemPreamble
	}
	return systemPreamble + "\n\n" + blurb
}

// blurb renders the exploration context, resolving the product's physical
// table name through the backend adapter.
func (o *Orchestrator) blurb(sessionCtx conversation.Context) string {
	var parts []string
	if sessionCtx.DataProduct != "" {
		part := fmt.Sprintf("The user is exploring data product %s", sessionCtx.DataProduct)
		if physical := o.physical(sessionCtx.DataProduct); physical != sessionCtx.DataProduct {
			part += fmt.Sprintf(" (stored as %s)", physical)
		}
		parts = append(parts, part+".")
	}
	if sessionCtx.Schema != "" {
		parts = append(parts, fmt.Sprintf("The active schema is %s.", sessionCtx.Schema))
	}
	if sessionCtx.Table != "" {
		parts = append(parts, fmt.Sprintf("The conversation focuses on table %s.", sessionCtx.Table))
	}
	if sessionCtx.DataSource != "" {
		parts = append(parts, fmt.Sprintf("Data originates from source %s.", sessionCtx.DataSource))
	}
	return strings.Join(parts, " ")
}

// transcriptMessages maps the persisted window onto the provider transcript.
// Only user and assistant messages persist; tool exchanges live within a
// single turn.
func transcriptMessages(history []conversation.Message) []ports.ChatMessage {
	messages := make([]ports.ChatMessage, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case conversation.RoleUser:
			messages = append(messages, ports.ChatMessage{Role: ports.ChatRoleUser, Content: msg.Content})
		case conversation.RoleAssistant:
			messages = append(messages, ports.ChatMessage{Role: ports.ChatRoleAssistant, Content: msg.Content})
		}
	}
	return messages
}

func toolMessage(callID string, payload interface{}) ports.ChatMessage {
	encoded, err := json.Marshal(payload)
	if err != nil {
		encoded = []byte(fmt.Sprintf(`{"error": "encoding tool result: %s"}`, err))
	}
	return ports.ChatMessage{
		Role:       ports.ChatRoleTool,
		Content:    string(encoded),
		ToolCallID: callID,
	}
}

func mergeSources(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(extra))
	merged := make([]string, 0, len(existing)+len(extra))
	for _, lists := range [][]string{existing, extra} {
		for _, source := range lists {
			if source == "" {
				continue
			}
			if _, dup := seen[source]; dup {
				continue
			}
			seen[source] = struct{}{}
			merged = append(merged, source)
		}
	}
	return merged
}

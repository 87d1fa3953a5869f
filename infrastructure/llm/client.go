// Package llm talks to an OpenAI-compatible chat-completions endpoint. The
// client is provider-agnostic: anything speaking the same dialect (vLLM,
// LiteLLM, gateway proxies) plugs in through the endpoint URL.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"datalens/application/ports"
	"datalens/pkg/common"
	apperrors "datalens/pkg/errors"
)

// DefaultTimeout bounds one model invocation end to end
const DefaultTimeout = 60 * time.Second

// maxRetries bounds re-submissions after rate limiting or transport drops
const maxRetries = 2

// Config carries the endpoint coordinates
type Config struct {
	Endpoint string // base URL, e.g. https://api.openai.com/v1
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Client implements ports.LLMProvider over the chat-completions wire format
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	timeout    time.Duration
	retryDelay time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a chat-completions client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, apperrors.NewConfigError("llm client requires an endpoint")
	}
	if cfg.Model == "" {
		return nil, apperrors.NewConfigError("llm client requires a model name")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		retryDelay: time.Second,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}, nil
}

// statusError is a non-retryable HTTP rejection from the endpoint
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("llm request rejected (%d): %s", e.code, e.message)
}

// Wire shapes of the chat-completions dialect

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type wireTool struct {
	Type     string         `json:"type"`
	Function wireToolSchema `json:"function"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireRequest struct {
	Model         string         `json:"model"`
	Messages      []wireMessage  `json:"messages"`
	Tools         []wireTool     `json:"tools,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

func (c *Client) buildRequest(req ports.CompletionRequest, stream bool) (*wireRequest, error) {
	messages := make([]wireMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, wireMessage{Role: ports.ChatRoleSystem, Content: req.System})
	}
	for _, msg := range req.Messages {
		wire := wireMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			arguments, err := json.Marshal(call.Input)
			if err != nil {
				return nil, apperrors.Wrapf(err, "encoding arguments of tool call %s", call.Name)
			}
			wire.ToolCalls = append(wire.ToolCalls, wireToolCall{
				ID:   call.ID,
				Type: "function",
				Function: wireFunction{
					Name:      call.Name,
					Arguments: string(arguments),
				},
			})
		}
		messages = append(messages, wire)
	}

	out := &wireRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, wireTool{
			Type: "function",
			Function: wireToolSchema{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return out, nil
}

// Complete runs one model invocation and returns the full reply
func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.Completion, error) {
	wire, err := c.buildRequest(req, false)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.retryDelay * time.Duration(1<<uint(attempt-1))
			if err := sleepContext(ctx, backoff); err != nil {
				return nil, c.classify(err)
			}
		}

		body, retryable, err := c.post(ctx, wire)
		if err != nil {
			if retryable {
				lastErr = err
				c.logger.Warn("llm request failed, retrying",
					append(common.Fields(ctx), zap.Int("attempt", attempt+1), zap.Error(err))...)
				continue
			}
			return nil, c.classify(err)
		}
		return parseCompletion(body)
	}
	return nil, c.classify(lastErr)
}

// CompleteStream runs one invocation, delivering text deltas through onToken
// as they arrive, then returns the assembled reply.
func (c *Client) CompleteStream(ctx context.Context, req ports.CompletionRequest, onToken func(delta string)) (*ports.Completion, error) {
	wire, err := c.buildRequest(req, true)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.retryDelay * time.Duration(1<<uint(attempt-1))
			if err := sleepContext(ctx, backoff); err != nil {
				return nil, c.classify(err)
			}
		}

		resp, retryable, err := c.open(ctx, wire)
		if err != nil {
			if retryable {
				lastErr = err
				c.logger.Warn("llm stream failed to open, retrying",
					append(common.Fields(ctx), zap.Int("attempt", attempt+1), zap.Error(err))...)
				continue
			}
			return nil, c.classify(err)
		}

		completion, err := c.consumeStream(ctx, resp.Body, onToken)
		resp.Body.Close()
		if err != nil {
			return nil, c.classify(err)
		}
		return completion, nil
	}
	return nil, c.classify(lastErr)
}

// post submits a non-streaming request. The middle return reports whether
// the failure is worth another attempt.
func (c *Client) post(ctx context.Context, wire *wireRequest) ([]byte, bool, error) {
	resp, retryable, err := c.submit(ctx, wire, "")
	if err != nil {
		return nil, retryable, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading llm response: %w", err)
	}
	return body, false, nil
}

// open submits a streaming request, returning the live response
func (c *Client) open(ctx context.Context, wire *wireRequest) (*http.Response, bool, error) {
	return c.submit(ctx, wire, "text/event-stream")
}

func (c *Client) submit(ctx context.Context, wire *wireRequest, accept string) (*http.Response, bool, error) {
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, false, fmt.Errorf("encoding llm request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("building llm request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if accept != "" {
		httpReq.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, false, err
		}
		return nil, true, err
	}

	if resp.StatusCode == http.StatusOK {
		return resp, false, nil
	}

	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	message := strings.TrimSpace(string(body))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("llm rate limited (429): %s", message)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("llm endpoint failed (%d): %s", resp.StatusCode, message)
	default:
		return nil, false, &statusError{code: resp.StatusCode, message: message}
	}
}

// parseCompletion reads the non-streaming reply shape tolerantly: absent
// fields degrade to zero values instead of failing the turn.
func parseCompletion(body []byte) (*ports.Completion, error) {
	if errMsg := gjson.GetBytes(body, "error.message"); errMsg.Exists() {
		return nil, apperrors.NewBackendUnavailableError("llm", errors.New(errMsg.String()))
	}
	choice := gjson.GetBytes(body, "choices.0")
	if !choice.Exists() {
		return nil, apperrors.NewBackendUnavailableError("llm", errors.New("no completion choices returned"))
	}

	completion := &ports.Completion{
		Text:       choice.Get("message.content").String(),
		StopReason: choice.Get("finish_reason").String(),
		Usage: ports.TokenUsage{
			InputTokens:  int(gjson.GetBytes(body, "usage.prompt_tokens").Int()),
			OutputTokens: int(gjson.GetBytes(body, "usage.completion_tokens").Int()),
		},
	}

	for _, call := range choice.Get("message.tool_calls").Array() {
		completion.ToolCalls = append(completion.ToolCalls, ports.ToolCall{
			ID:    call.Get("id").String(),
			Name:  call.Get("function.name").String(),
			Input: decodeArguments(call.Get("function.arguments").String()),
		})
	}
	return completion, nil
}

// consumeStream reads server-sent chunks, forwarding content deltas and
// accumulating tool-call fragments by index until the [DONE] sentinel.
func (c *Client) consumeStream(ctx context.Context, body io.Reader, onToken func(delta string)) (*ports.Completion, error) {
	var text strings.Builder
	completion := &ports.Completion{}
	calls := map[int64]*ports.ToolCall{}
	arguments := map[int64]*strings.Builder{}
	var order []int64

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		chunk := gjson.Parse(data)
		if errMsg := chunk.Get("error.message"); errMsg.Exists() {
			return nil, apperrors.NewBackendUnavailableError("llm", errors.New(errMsg.String()))
		}

		if usage := chunk.Get("usage"); usage.Exists() && usage.Type != gjson.Null {
			completion.Usage.InputTokens = int(usage.Get("prompt_tokens").Int())
			completion.Usage.OutputTokens = int(usage.Get("completion_tokens").Int())
		}

		choice := chunk.Get("choices.0")
		if !choice.Exists() {
			continue
		}
		if reason := choice.Get("finish_reason"); reason.Exists() && reason.Type != gjson.Null {
			completion.StopReason = reason.String()
		}

		if delta := choice.Get("delta.content"); delta.Exists() && delta.String() != "" {
			text.WriteString(delta.String())
			if onToken != nil {
				onToken(delta.String())
			}
		}

		for _, fragment := range choice.Get("delta.tool_calls").Array() {
			index := fragment.Get("index").Int()
			call, ok := calls[index]
			if !ok {
				call = &ports.ToolCall{}
				calls[index] = call
				arguments[index] = &strings.Builder{}
				order = append(order, index)
			}
			if id := fragment.Get("id").String(); id != "" {
				call.ID = id
			}
			if name := fragment.Get("function.name").String(); name != "" {
				call.Name = name
			}
			arguments[index].WriteString(fragment.Get("function.arguments").String())
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading llm stream: %w", err)
	}

	completion.Text = text.String()
	for _, index := range order {
		call := calls[index]
		call.Input = decodeArguments(arguments[index].String())
		completion.ToolCalls = append(completion.ToolCalls, *call)
	}
	return completion, nil
}

// decodeArguments parses a tool-call argument payload. Malformed arguments
// yield an empty input; the orchestrator reports the failed call to the
// model rather than aborting the turn.
func decodeArguments(raw string) map[string]interface{} {
	if raw == "" {
		return map[string]interface{}{}
	}
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return map[string]interface{}{}
	}
	return input
}

func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, has := ctx.Deadline(); has {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) classify(err error) error {
	var rejection *statusError
	switch {
	case err == nil:
		return nil
	case apperrors.IsAppError(err):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTimeoutError("llm completion")
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &rejection):
		if rejection.code == http.StatusUnauthorized || rejection.code == http.StatusForbidden {
			return apperrors.NewConfigError("llm credentials rejected: " + rejection.message)
		}
		return apperrors.NewInternalError(rejection.Error())
	default:
		return apperrors.NewBackendUnavailableError("llm", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package assistant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"datalens/application/ports"
	"datalens/domain/catalog"
	"datalens/domain/conversation"
	"datalens/domain/graph"
	"datalens/infrastructure/persistence/memory"
	apperrors "datalens/pkg/errors"
)

// scriptedLLM replays a fixed sequence of completions and records every
// request it received.
type scriptedLLM struct {
	mu        sync.Mutex
	requests  []ports.CompletionRequest
	steps     []scriptStep
	gate      chan struct{}
	started   chan struct{}
	startOnce sync.Once
}

type scriptStep struct {
	completion *ports.Completion
	err        error
	tokens     []string
}

func (l *scriptedLLM) next(ctx context.Context, req ports.CompletionRequest) (scriptStep, error) {
	if l.started != nil {
		l.startOnce.Do(func() { close(l.started) })
	}
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return scriptStep{}, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if len(l.steps) == 0 {
		return scriptStep{}, errors.New("llm script exhausted")
	}
	step := l.steps[0]
	l.steps = l.steps[1:]
	return step, nil
}

func (l *scriptedLLM) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.Completion, error) {
	step, err := l.next(ctx, req)
	if err != nil {
		return nil, err
	}
	return step.completion, step.err
}

func (l *scriptedLLM) CompleteStream(ctx context.Context, req ports.CompletionRequest, onToken func(delta string)) (*ports.Completion, error) {
	step, err := l.next(ctx, req)
	if err != nil {
		return nil, err
	}
	if step.err != nil {
		return nil, step.err
	}
	for _, token := range step.tokens {
		if onToken != nil {
			onToken(token)
		}
	}
	return step.completion, nil
}

func (l *scriptedLLM) request(t *testing.T, index int) ports.CompletionRequest {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.Greater(t, len(l.requests), index)
	return l.requests[index]
}

func toolStep(calls ...ports.ToolCall) scriptStep {
	return scriptStep{completion: &ports.Completion{ToolCalls: calls, StopReason: "tool_calls"}}
}

// stubRepository provides fixed catalog answers for tool calls
type stubRepository struct {
	products []catalog.ProductDescriptor
	columns  map[string][]catalog.ColumnDescriptor
	queryFn  func(ctx context.Context, sql string, params []interface{}, limit int) (*catalog.QueryResult, error)
}

func (r *stubRepository) Backend() string { return "primary" }

func (r *stubRepository) ListProducts(context.Context) ([]catalog.ProductDescriptor, error) {
	return r.products, nil
}

func (r *stubRepository) ListTables(context.Context, string) ([]catalog.TableDescriptor, error) {
	return nil, nil
}

func (r *stubRepository) DescribeTable(_ context.Context, schema, table string) ([]catalog.ColumnDescriptor, error) {
	columns, ok := r.columns[schema+"."+table]
	if !ok {
		return nil, apperrors.NewNotFoundError("table " + schema + "." + table)
	}
	return columns, nil
}

func (r *stubRepository) ExecuteQuery(ctx context.Context, sql string, params []interface{}, limit int) (*catalog.QueryResult, error) {
	if r.queryFn != nil {
		return r.queryFn(ctx, sql, params, limit)
	}
	return &catalog.QueryResult{
		Columns:  []catalog.QueryColumn{{Name: "n", Type: "INTEGER"}},
		Rows:     []map[string]interface{}{{"n": int64(4)}},
		RowCount: 1,
	}, nil
}

// stubGraphs serves one prebuilt schema graph
type stubGraphs struct {
	g *graph.Graph
}

func (s *stubGraphs) GetOrRebuild(context.Context, graph.Kind, string) (*graph.Graph, bool, error) {
	return s.g, false, nil
}

func (s *stubGraphs) ForceRebuild(context.Context, graph.Kind, string) (*graph.Graph, error) {
	return s.g, nil
}

func (s *stubGraphs) Invalidate(context.Context, graph.Kind, string) (bool, error) {
	return false, nil
}

func (s *stubGraphs) Status(context.Context, graph.Kind, string) (*ports.GraphStatus, error) {
	return &ports.GraphStatus{Present: true}, nil
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		products: []catalog.ProductDescriptor{
			{Name: "Invoice", Schema: "default", Source: "sales"},
			{Name: "Customer", Schema: "default", Source: "sales"},
		},
		columns: map[string][]catalog.ColumnDescriptor{
			"default.Invoice": {
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "currency_code", Type: "TEXT", SemanticTag: "Currency", Length: 3},
			},
		},
	}
}

func newSchemaGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New("default", graph.KindSchema)
	require.NoError(t, g.AddNode(graph.Node{ID: "table:default.Invoice", Label: "Invoice", Type: graph.NodeTypeTable}))
	require.NoError(t, g.AddNode(graph.Node{
		ID:    "element:default.Invoice.currency_code",
		Label: "Currency",
		Type:  graph.NodeTypeElement,
		Properties: map[string]interface{}{
			"semantic_tag": "Currency",
			"data_type":    "TEXT",
		},
	}))
	require.NoError(t, g.AddEdge(graph.Edge{
		SourceID: "table:default.Invoice",
		TargetID: "element:default.Invoice.currency_code",
		Type:     graph.EdgeTypeContains,
	}))
	g.RecomputeStatistics()
	return g
}

type orchestratorHarness struct {
	orchestrator *Orchestrator
	store        ports.ConversationStore
	llm          *scriptedLLM
	repo         *stubRepository
}

func newHarness(t *testing.T, llm *scriptedLLM, opts Options) *orchestratorHarness {
	t.Helper()
	repo := newStubRepository()
	store := memory.NewConversationStore(0)
	tools := NewToolset(repo, &stubGraphs{g: newSchemaGraph(t)}, nil)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &orchestratorHarness{
		orchestrator: NewOrchestrator(store, llm, tools, opts),
		store:        store,
		llm:          llm,
		repo:         repo,
	}
}

func (h *orchestratorHarness) newSession(t *testing.T, sessionCtx conversation.Context) string {
	t.Helper()
	session, err := h.orchestrator.StartConversation(context.Background(), sessionCtx)
	require.NoError(t, err)
	return session.ID
}

func TestOrchestrator_SimpleTurn(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{
		{completion: &ports.Completion{
			Text:       `{"message": "The catalog holds Invoice and Customer.", "confidence": 0.9, "sources": ["catalog"]}`,
			StopReason: "stop",
		}},
	}}
	h := newHarness(t, llm, Options{})
	sessionID := h.newSession(t, conversation.Context{DataProduct: "Invoice", Schema: "default"})

	response, err := h.orchestrator.Converse(context.Background(), sessionID, "What data do we have?")
	require.NoError(t, err)

	assert.Equal(t, "The catalog holds Invoice and Customer.", response.Message)
	assert.InDelta(t, 0.9, response.Confidence, 1e-9)
	assert.Equal(t, []string{"catalog"}, response.Sources)
	assert.False(t, response.RequiresClarification)

	session, err := h.store.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, conversation.RoleUser, session.Messages[0].Role)
	assert.Equal(t, "What data do we have?", session.Messages[0].Content)
	assert.Equal(t, conversation.RoleAssistant, session.Messages[1].Role)
	assert.InDelta(t, 0.9, session.Messages[1].Metadata["confidence"].(float64), 1e-9)

	req := llm.request(t, 0)
	assert.Contains(t, req.System, "data exploration assistant")
	assert.Contains(t, req.System, "data product Invoice")
	require.Len(t, req.Tools, 5)
	assert.Equal(t, "list_data_products", req.Tools[0].Name)
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, ports.ChatRoleUser, req.Messages[len(req.Messages)-1].Role)
}

func TestOrchestrator_BlurbUsesPhysicalNames(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{
		{completion: &ports.Completion{Text: `{"message": "ok", "confidence": 1}`}},
	}}
	h := newHarness(t, llm, Options{
		PhysicalName: func(product string) string {
			return catalog.RemoteTableName("NS_DP", "sap_bdc", product, "V1")
		},
	})
	sessionID := h.newSession(t, conversation.Context{DataProduct: "Invoice"})

	blurb, err := h.orchestrator.ContextBlurb(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Contains(t, blurb, "data product Invoice")
	assert.Contains(t, blurb, "stored as NS_DP_sap_bdc_Invoice_V1")

	_, err = h.orchestrator.Converse(context.Background(), sessionID, "hello")
	require.NoError(t, err)
	assert.Contains(t, llm.request(t, 0).System, "NS_DP_sap_bdc_Invoice_V1")
}

func TestOrchestrator_ToolRoundFeedsResultsBack(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{
		toolStep(ports.ToolCall{ID: "call_1", Name: "describe_table", Input: map[string]interface{}{"table": "Invoice"}}),
		{completion: &ports.Completion{
			Text: `{"message": "Invoice has 2 columns.", "confidence": 0.8}`,
		}},
	}}
	h := newHarness(t, llm, Options{})
	sessionID := h.newSession(t, conversation.Context{Schema: "default"})

	response, err := h.orchestrator.Converse(context.Background(), sessionID, "Describe Invoice")
	require.NoError(t, err)

	assert.Equal(t, "Invoice has 2 columns.", response.Message)
	assert.Equal(t, []string{"default.Invoice"}, response.Sources)

	second := llm.request(t, 1)
	require.GreaterOrEqual(t, len(second.Messages), 3)

	echo := second.Messages[len(second.Messages)-2]
	assert.Equal(t, ports.ChatRoleAssistant, echo.Role)
	require.Len(t, echo.ToolCalls, 1)
	assert.Equal(t, "describe_table", echo.ToolCalls[0].Name)

	toolMsg := second.Messages[len(second.Messages)-1]
	assert.Equal(t, ports.ChatRoleTool, toolMsg.Role)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assert.Equal(t, "currency_code", gjson.Get(toolMsg.Content, "columns.1.name").String())
	assert.Equal(t, "Currency", gjson.Get(toolMsg.Content, "columns.1.semantic_tag").String())
}

func TestOrchestrator_RepeatedToolFailuresRequireClarification(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{
		toolStep(
			ports.ToolCall{ID: "call_1", Name: "describe_table", Input: map[string]interface{}{"table": "Ledger"}},
			ports.ToolCall{ID: "call_2", Name: "describe_table", Input: map[string]interface{}{"table": "Journal"}},
		),
		{completion: &ports.Completion{
			Text: `{"message": "I could not find those tables.", "confidence": 0.3, "requires_clarification": false}`,
		}},
	}}
	h := newHarness(t, llm, Options{})
	sessionID := h.newSession(t, conversation.Context{Schema: "default"})

	response, err := h.orchestrator.Converse(context.Background(), sessionID, "Describe Ledger and Journal")
	require.NoError(t, err)

	assert.True(t, response.RequiresClarification)
	assert.Equal(t, "I could not find those tables.", response.Message)

	second := llm.request(t, 1)
	errMsg := second.Messages[len(second.Messages)-1]
	assert.Equal(t, ports.ChatRoleTool, errMsg.Role)
	assert.Contains(t, gjson.Get(errMsg.Content, "error").String(), "Journal")
}

func TestOrchestrator_RoundBudgetExhausted(t *testing.T) {
	call := ports.ToolCall{ID: "call_1", Name: "list_data_products", Input: map[string]interface{}{}}
	llm := &scriptedLLM{steps: []scriptStep{toolStep(call), toolStep(call), toolStep(call)}}
	h := newHarness(t, llm, Options{MaxRounds: 2})
	sessionID := h.newSession(t, conversation.Context{})

	response, err := h.orchestrator.Converse(context.Background(), sessionID, "loop forever")
	require.NoError(t, err)

	assert.True(t, response.RequiresClarification)
	assert.Zero(t, response.Confidence)

	session, err := h.store.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, conversation.RoleAssistant, session.Messages[1].Role)
}

func TestOrchestrator_ConcurrentTurnsConflict(t *testing.T) {
	llm := &scriptedLLM{
		steps:   []scriptStep{{completion: &ports.Completion{Text: `{"message": "done", "confidence": 1}`}}},
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	h := newHarness(t, llm, Options{})
	sessionID := h.newSession(t, conversation.Context{})

	firstDone := make(chan error, 1)
	go func() {
		_, err := h.orchestrator.Converse(context.Background(), sessionID, "slow question")
		firstDone <- err
	}()

	<-llm.started
	_, err := h.orchestrator.Converse(context.Background(), sessionID, "impatient question")
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	close(llm.gate)
	require.NoError(t, <-firstDone)

	// The rejected turn left no trace
	session, err := h.store.Get(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Len(t, session.Messages, 2)
}

func TestOrchestrator_CancellationLeavesUserMessageOnly(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{
		toolStep(ports.ToolCall{ID: "call_1", Name: "execute_query", Input: map[string]interface{}{"sql": "SELECT 1"}}),
	}}
	h := newHarness(t, llm, Options{})
	h.repo.queryFn = func(ctx context.Context, _ string, _ []interface{}, _ int) (*catalog.QueryResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	sessionID := h.newSession(t, conversation.Context{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := h.orchestrator.Converse(ctx, sessionID, "run the slow one")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	session, err := h.store.Get(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, session.Messages, 1)
	assert.Equal(t, conversation.RoleUser, session.Messages[0].Role)
}

func TestOrchestrator_StreamEmitsEventSequence(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{
		toolStep(ports.ToolCall{ID: "call_1", Name: "describe_table", Input: map[string]interface{}{"table": "Invoice"}}),
		{
			completion: &ports.Completion{Text: `{"message": "Invoice described.", "confidence": 0.7}`},
			tokens:     []string{"Invoice ", "described."},
		},
	}}
	h := newHarness(t, llm, Options{})
	sessionID := h.newSession(t, conversation.Context{Schema: "default"})

	var events []Event
	response, err := h.orchestrator.ConverseStream(context.Background(), sessionID, "Describe Invoice", func(e Event) {
		events = append(events, e)
	})
	require.NoError(t, err)
	assert.Equal(t, "Invoice described.", response.Message)

	require.Len(t, events, 5)
	assert.Equal(t, EventToolStart, events[0].Type)
	assert.Equal(t, "describe_table", events[0].Tool)
	assert.Equal(t, EventToolEnd, events[1].Type)
	assert.Empty(t, events[1].Error)
	assert.Equal(t, EventToken, events[2].Type)
	assert.Equal(t, "Invoice ", events[2].Delta)
	assert.Equal(t, EventToken, events[3].Type)
	assert.Equal(t, EventFinal, events[4].Type)
	require.NotNil(t, events[4].Response)
	assert.Equal(t, "Invoice described.", events[4].Response.Message)
}

func TestOrchestrator_PlainTextFinalFallsBack(t *testing.T) {
	llm := &scriptedLLM{steps: []scriptStep{
		{completion: &ports.Completion{Text: "Just a plain answer."}},
	}}
	h := newHarness(t, llm, Options{})
	sessionID := h.newSession(t, conversation.Context{})

	response, err := h.orchestrator.Converse(context.Background(), sessionID, "hi")
	require.NoError(t, err)
	assert.Equal(t, "Just a plain answer.", response.Message)
	assert.InDelta(t, defaultConfidence, response.Confidence, 1e-9)
}

func TestOrchestrator_EmptyMessageRejected(t *testing.T) {
	h := newHarness(t, &scriptedLLM{}, Options{})
	sessionID := h.newSession(t, conversation.Context{})

	_, err := h.orchestrator.Converse(context.Background(), sessionID, "   ")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestOrchestrator_UnknownSession(t *testing.T) {
	h := newHarness(t, &scriptedLLM{}, Options{})

	_, err := h.orchestrator.Converse(context.Background(), "missing", "hello")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOrchestrator_StartConversationValidatesDataSource(t *testing.T) {
	h := newHarness(t, &scriptedLLM{}, Options{})

	_, err := h.orchestrator.StartConversation(context.Background(), conversation.Context{DataSource: "marketing"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	session, err := h.orchestrator.StartConversation(context.Background(), conversation.Context{DataSource: "sales"})
	require.NoError(t, err)
	assert.Equal(t, "sales", session.Context.DataSource)
}

func TestOrchestrator_EndConversation(t *testing.T) {
	h := newHarness(t, &scriptedLLM{}, Options{})
	sessionID := h.newSession(t, conversation.Context{})

	require.NoError(t, h.orchestrator.EndConversation(context.Background(), sessionID))

	err := h.orchestrator.EndConversation(context.Background(), sessionID)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOrchestrator_HistoryWindowBoundsTranscript(t *testing.T) {
	steps := make([]scriptStep, 0, 12)
	for i := 0; i < 12; i++ {
		steps = append(steps, scriptStep{completion: &ports.Completion{Text: `{"message": "ok", "confidence": 1}`}})
	}
	llm := &scriptedLLM{steps: steps}
	h := newHarness(t, llm, Options{})
	sessionID := h.newSession(t, conversation.Context{})

	for i := 0; i < 12; i++ {
		_, err := h.orchestrator.Converse(context.Background(), sessionID, "ping")
		require.NoError(t, err)
	}

	last := llm.request(t, 11)
	assert.Len(t, last.Messages, conversation.DefaultWindow)
}

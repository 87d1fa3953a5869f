package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"datalens/application/assistant"
	"datalens/domain/conversation"
	apperrors "datalens/pkg/errors"
)

type stubAssistant struct {
	session     *conversation.Session
	startErr    error
	getErr      error
	endErr      error
	blurb       string
	response    *assistant.Response
	converseErr error
	events      []assistant.Event

	gotContext conversation.Context
	gotMessage string
	gotSession string
}

func (s *stubAssistant) StartConversation(ctx context.Context, sessionCtx conversation.Context) (*conversation.Session, error) {
	s.gotContext = sessionCtx
	if s.startErr != nil {
		return nil, s.startErr
	}
	return s.session, nil
}

func (s *stubAssistant) Conversation(ctx context.Context, sessionID string) (*conversation.Session, error) {
	s.gotSession = sessionID
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.session, nil
}

func (s *stubAssistant) EndConversation(ctx context.Context, sessionID string) error {
	s.gotSession = sessionID
	return s.endErr
}

func (s *stubAssistant) ContextBlurb(ctx context.Context, sessionID string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	return s.blurb, nil
}

func (s *stubAssistant) Converse(ctx context.Context, sessionID, userText string) (*assistant.Response, error) {
	s.gotSession = sessionID
	s.gotMessage = userText
	if s.converseErr != nil {
		return nil, s.converseErr
	}
	return s.response, nil
}

func (s *stubAssistant) ConverseStream(ctx context.Context, sessionID, userText string, sink assistant.EventSink) (*assistant.Response, error) {
	s.gotSession = sessionID
	s.gotMessage = userText
	for _, event := range s.events {
		sink(event)
	}
	if s.converseErr != nil {
		return nil, s.converseErr
	}
	return s.response, nil
}

func assistantRouter(agent Assistant) http.Handler {
	h := NewAssistantHandler(agent, apperrors.NewErrorHandler(zap.NewNop(), false), zap.NewNop())
	r := chi.NewRouter()
	r.Route("/api/ai-assistant/conversations", func(r chi.Router) {
		r.Post("/", h.StartConversation)
		r.Get("/{conversationID}", h.GetConversation)
		r.Delete("/{conversationID}", h.EndConversation)
		r.Get("/{conversationID}/context", h.GetContext)
		r.Post("/{conversationID}/messages", h.PostMessage)
		r.Post("/{conversationID}/messages/stream", h.StreamMessage)
	})
	return r
}

func fixtureSession(t *testing.T) *conversation.Session {
	t.Helper()
	session := conversation.NewSession(
		conversation.Context{DataProduct: "Invoice"}, time.Now(), time.Hour)
	session.Append(conversation.RoleUser, "show open invoices", nil, time.Now(), time.Hour)
	return session
}

func TestAssistantHandler_StartConversation(t *testing.T) {
	agent := &stubAssistant{session: fixtureSession(t)}
	router := assistantRouter(agent)

	body := strings.NewReader(`{"context": {"data_product": "Invoice", "schema": "default"}}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ai-assistant/conversations", body))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, agent.session.ID, gjson.Get(rec.Body.String(), "conversation_id").String())
	assert.Equal(t, "Invoice", agent.gotContext.DataProduct)
	assert.Equal(t, "default", agent.gotContext.Schema)
}

func TestAssistantHandler_StartConversationEmptyBody(t *testing.T) {
	agent := &stubAssistant{session: fixtureSession(t)}
	router := assistantRouter(agent)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ai-assistant/conversations", nil))

	require.Equal(t, http.StatusCreated, rec.Code, "an empty body opens an unpinned session")
	assert.Equal(t, conversation.Context{}, agent.gotContext)
}

func TestAssistantHandler_StartConversationRejectsUnknownSource(t *testing.T) {
	agent := &stubAssistant{startErr: apperrors.NewValidationError("unknown data source mars")}
	router := assistantRouter(agent)

	body := strings.NewReader(`{"context": {"data_source": "mars"}}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ai-assistant/conversations", body))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperrors.ErrorTypeValidation), gjson.Get(rec.Body.String(), "type").String())
}

func TestAssistantHandler_GetConversation(t *testing.T) {
	agent := &stubAssistant{session: fixtureSession(t)}
	router := assistantRouter(agent)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ai-assistant/conversations/"+agent.session.ID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, agent.session.ID, gjson.Get(body, "id").String())
	assert.Equal(t, int64(1), gjson.Get(body, "messages.#").Int())
	assert.Equal(t, "Invoice", gjson.Get(body, "context.data_product").String())
	assert.Equal(t, agent.session.ID, agent.gotSession)
}

func TestAssistantHandler_GetConversationNotFound(t *testing.T) {
	agent := &stubAssistant{getErr: apperrors.NewNotFoundError("conversation gone")}
	router := assistantRouter(agent)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ai-assistant/conversations/gone", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssistantHandler_PostMessage(t *testing.T) {
	agent := &stubAssistant{response: &assistant.Response{
		Message:    "There are 2 open invoices.",
		Confidence: 0.9,
		Sources:    []string{"{{Invoice}}"},
	}}
	router := assistantRouter(agent)

	body := strings.NewReader(`{"message": "how many open invoices?"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ai-assistant/conversations/abc/messages", body))

	require.Equal(t, http.StatusOK, rec.Code)
	payload := rec.Body.String()
	assert.Equal(t, "There are 2 open invoices.", gjson.Get(payload, "response.message").String())
	assert.InDelta(t, 0.9, gjson.Get(payload, "response.confidence").Float(), 0.001)
	assert.Equal(t, "{{Invoice}}", gjson.Get(payload, "response.sources.0").String())
	assert.Equal(t, "how many open invoices?", agent.gotMessage)
	assert.Equal(t, "abc", agent.gotSession)
}

func TestAssistantHandler_PostMessageValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing message field", body: `{}`},
		{name: "malformed json", body: `{"message": `},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := assistantRouter(&stubAssistant{})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(
				http.MethodPost, "/api/ai-assistant/conversations/abc/messages", strings.NewReader(tc.body)))

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(apperrors.ErrorTypeValidation), gjson.Get(rec.Body.String(), "type").String())
		})
	}
}

func TestAssistantHandler_PostMessageConcurrentTurnConflicts(t *testing.T) {
	agent := &stubAssistant{converseErr: apperrors.NewConflictError("a turn is already running for session abc")}
	router := assistantRouter(agent)

	body := strings.NewReader(`{"message": "hello"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ai-assistant/conversations/abc/messages", body))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apperrors.ErrorTypeConflict), gjson.Get(rec.Body.String(), "type").String())
}

func TestAssistantHandler_EndConversation(t *testing.T) {
	agent := &stubAssistant{}
	router := assistantRouter(agent)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/ai-assistant/conversations/abc", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "abc", agent.gotSession)
}

func TestAssistantHandler_GetContext(t *testing.T) {
	agent := &stubAssistant{blurb: "The user is exploring data product Invoice."}
	router := assistantRouter(agent)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ai-assistant/conversations/abc/context", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The user is exploring data product Invoice.", gjson.Get(rec.Body.String(), "blurb").String())
}

func TestAssistantHandler_StreamMessage(t *testing.T) {
	agent := &stubAssistant{
		events: []assistant.Event{
			{Type: assistant.EventToolStart, Tool: "execute_query", Input: map[string]interface{}{"sql": "SELECT 1"}},
			{Type: assistant.EventToolEnd, Tool: "execute_query"},
			{Type: assistant.EventToken, Delta: "There are "},
			{Type: assistant.EventToken, Delta: "2 open invoices."},
			{Type: assistant.EventFinal, Response: &assistant.Response{Message: "There are 2 open invoices.", Confidence: 0.9}},
		},
		response: &assistant.Response{Message: "There are 2 open invoices.", Confidence: 0.9},
	}
	router := assistantRouter(agent)

	body := strings.NewReader(`{"message": "how many open invoices?"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ai-assistant/conversations/abc/messages/stream", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	payload := rec.Body.String()
	order := []string{"event: tool_start", "event: tool_end", "event: token", "event: final"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(payload, marker)
		require.GreaterOrEqual(t, idx, 0, "stream must contain %q", marker)
		assert.Greater(t, idx, last, "%q arrived out of order", marker)
		last = idx
	}

	finalData := ""
	for _, line := range strings.Split(payload, "\n") {
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, `"final"`) {
			finalData = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NotEmpty(t, finalData)
	assert.Equal(t, "There are 2 open invoices.", gjson.Get(finalData, "response.message").String())
}

func TestAssistantHandler_StreamConflictBeforeOutput(t *testing.T) {
	// No events were emitted, so the error boundary still owns the response.
	agent := &stubAssistant{converseErr: apperrors.NewConflictError("a turn is already running for session abc")}
	router := assistantRouter(agent)

	body := strings.NewReader(`{"message": "hello"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ai-assistant/conversations/abc/messages/stream", body))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, string(apperrors.ErrorTypeConflict), gjson.Get(rec.Body.String(), "type").String())
}

func TestAssistantHandler_StreamFailureMidTurn(t *testing.T) {
	agent := &stubAssistant{
		events:      []assistant.Event{{Type: assistant.EventToken, Delta: "Let me check"}},
		converseErr: apperrors.NewTimeoutError("llm invocation"),
	}
	router := assistantRouter(agent)

	body := strings.NewReader(`{"message": "hello"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ai-assistant/conversations/abc/messages/stream", body))

	// The stream already started, so the failure arrives as an event.
	require.Equal(t, http.StatusOK, rec.Code)
	payload := rec.Body.String()
	assert.Contains(t, payload, "event: token")
	assert.Contains(t, payload, "event: error")
	assert.Contains(t, payload, string(apperrors.ErrorTypeTimeout))
}

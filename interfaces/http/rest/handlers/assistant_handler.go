package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"datalens/application/assistant"
	"datalens/domain/conversation"
	apperrors "datalens/pkg/errors"
	"datalens/pkg/utils"
)

// Assistant is the slice of the orchestrator the HTTP surface consumes
type Assistant interface {
	StartConversation(ctx context.Context, sessionCtx conversation.Context) (*conversation.Session, error)
	Conversation(ctx context.Context, sessionID string) (*conversation.Session, error)
	EndConversation(ctx context.Context, sessionID string) error
	ContextBlurb(ctx context.Context, sessionID string) (string, error)
	Converse(ctx context.Context, sessionID, userText string) (*assistant.Response, error)
	ConverseStream(ctx context.Context, sessionID, userText string, sink assistant.EventSink) (*assistant.Response, error)
}

// AssistantHandler serves the conversational endpoints
type AssistantHandler struct {
	agent  Assistant
	errors *apperrors.ErrorHandler
	logger *zap.Logger
}

// NewAssistantHandler creates a new assistant handler
func NewAssistantHandler(agent Assistant, errors *apperrors.ErrorHandler, logger *zap.Logger) *AssistantHandler {
	return &AssistantHandler{
		agent:  agent,
		errors: errors,
		logger: logger,
	}
}

// StartConversationRequest opens a session. The context pins the session to
// the data scope the user is exploring; every field is optional.
type StartConversationRequest struct {
	Context conversation.Context `json:"context"`
}

// StartConversationResponse carries the fresh session id
type StartConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// PostMessageRequest is the body of one turn
type PostMessageRequest struct {
	Message string `json:"message" validate:"required"`
}

// MessageResponse wraps the assistant's answer to one turn
type MessageResponse struct {
	Response *assistant.Response `json:"response"`
}

// ContextResponse renders the session's exploration context as prompt prose
type ContextResponse struct {
	Blurb string `json:"blurb"`
}

// StartConversation handles POST /api/ai-assistant/conversations. An empty
// body opens an unpinned session.
func (h *AssistantHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	var req StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.errors.Handle(w, r, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	session, err := h.agent.StartConversation(r.Context(), req.Context)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	h.logger.Info("conversation started", zap.String("conversation_id", session.ID))
	writeJSON(w, h.logger, http.StatusCreated, StartConversationResponse{ConversationID: session.ID})
}

// GetConversation handles GET /api/ai-assistant/conversations/{conversationID}
func (h *AssistantHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	session, err := h.agent.Conversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, session)
}

// EndConversation handles DELETE /api/ai-assistant/conversations/{conversationID}
func (h *AssistantHandler) EndConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.agent.EndConversation(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetContext handles GET /api/ai-assistant/conversations/{conversationID}/context
func (h *AssistantHandler) GetContext(w http.ResponseWriter, r *http.Request) {
	blurb, err := h.agent.ContextBlurb(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, ContextResponse{Blurb: blurb})
}

// PostMessage handles POST /api/ai-assistant/conversations/{conversationID}/messages
func (h *AssistantHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeMessage(w, r)
	if !ok {
		return
	}

	response, err := h.agent.Converse(r.Context(), chi.URLParam(r, "conversationID"), req.Message)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, MessageResponse{Response: response})
}

// StreamMessage handles POST /api/ai-assistant/conversations/{conversationID}/messages/stream.
// The turn's events arrive as server-sent events; the assembled response
// travels inside the terminal "final" event.
func (h *AssistantHandler) StreamMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeMessage(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.errors.Handle(w, r, apperrors.NewInternalError("streaming is not supported by this connection"))
		return
	}

	stream := &sseWriter{w: w, flusher: flusher, logger: h.logger}
	_, err := h.agent.ConverseStream(r.Context(), chi.URLParam(r, "conversationID"), req.Message, stream.send)
	if err != nil {
		if r.Context().Err() != nil {
			// The client went away; the turn already unwound.
			return
		}
		if !stream.started {
			h.errors.Handle(w, r, err)
			return
		}
		stream.fail(err)
	}
}

// decodeMessage parses and validates a turn body, reporting failures itself
func (h *AssistantHandler) decodeMessage(w http.ResponseWriter, r *http.Request) (PostMessageRequest, bool) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return req, false
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError(err.Error()))
		return req, false
	}
	return req, true
}

// sseWriter serializes turn events onto a server-sent event stream. Headers
// are deferred until the first event so failures that precede any output can
// still use the JSON error boundary.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *zap.Logger
	started bool
}

func (s *sseWriter) send(event assistant.Event) {
	if !s.started {
		header := s.w.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		header.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to encode stream event", zap.Error(err))
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, payload)
	s.flusher.Flush()
}

// fail reports a turn failure on an already-started stream. The status line
// is gone by now, so the error taxonomy travels as a terminal event.
func (s *sseWriter) fail(err error) {
	payload := map[string]string{
		"type":    string(apperrors.ErrorTypeInternal),
		"message": "an internal error occurred",
	}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		payload["type"] = string(appErr.Type)
		payload["message"] = appErr.Message
	}

	encoded, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return
	}
	fmt.Fprintf(s.w, "event: error\ndata: %s\n\n", encoded)
	s.flusher.Flush()
}

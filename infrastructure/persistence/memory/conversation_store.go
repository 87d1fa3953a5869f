// Package memory holds the in-process store variants. They satisfy the same
// contracts as the persistent implementations and are the default when no
// durability is configured.
package memory

import (
	"context"
	"sync"
	"time"

	"datalens/domain/conversation"
	apperrors "datalens/pkg/errors"
)

// ConversationStore keeps sessions in process memory. Sessions disappear on
// restart and when their idle TTL elapses; every read sweeps expired ones.
type ConversationStore struct {
	ttl   time.Duration
	nowFn func() time.Time

	mu       sync.RWMutex
	sessions map[string]*conversation.Session
}

// NewConversationStore creates an in-memory conversation store
func NewConversationStore(ttl time.Duration) *ConversationStore {
	if ttl <= 0 {
		ttl = conversation.DefaultTTL
	}
	return &ConversationStore{
		ttl:      ttl,
		nowFn:    time.Now,
		sessions: make(map[string]*conversation.Session),
	}
}

// sweep drops sessions whose idle TTL elapsed. Callers hold the write lock.
func (s *ConversationStore) sweep() {
	now := s.nowFn().UTC()
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
		}
	}
}

// Create opens a session with a fresh id
func (s *ConversationStore) Create(_ context.Context, sessionCtx conversation.Context) (*conversation.Session, error) {
	session := conversation.NewSession(sessionCtx, s.nowFn().UTC(), s.ttl)

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session.Clone(), nil
}

// Get returns a snapshot of the session
func (s *ConversationStore) Get(_ context.Context, id string) (*conversation.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()

	session, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("session " + id)
	}
	return session.Clone(), nil
}

// Append adds a message and extends the session's TTL
func (s *ConversationStore) Append(_ context.Context, id string, role conversation.Role, content string, metadata map[string]interface{}) (conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return conversation.Message{}, apperrors.NewNotFoundError("session " + id)
	}
	return session.Append(role, content, metadata, s.nowFn().UTC(), s.ttl), nil
}

// History returns the most recent messages in chronological order
func (s *ConversationStore) History(_ context.Context, id string, window int) ([]conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()

	session, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("session " + id)
	}
	return session.Window(window), nil
}

// Delete removes the session
func (s *ConversationStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return apperrors.NewNotFoundError("session " + id)
	}
	delete(s.sessions, id)
	return nil
}

// ActiveSessions counts live sessions after sweeping
func (s *ConversationStore) ActiveSessions(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()

	return len(s.sessions), nil
}

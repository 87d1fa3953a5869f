package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"datalens/domain/conversation"
	apperrors "datalens/pkg/errors"
)

// ConversationStore is the persistent session variant. It shares the
// primary backend's database file; its tables carry the ai_assistant module
// prefix. Operations on one session are serialized by a per-id lock, and
// every read sweeps sessions that idled past their TTL.
type ConversationStore struct {
	store *Store
	ttl   time.Duration
	nowFn func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewConversationStore creates a persistent conversation store
func NewConversationStore(store *Store, ttl time.Duration) *ConversationStore {
	if ttl <= 0 {
		ttl = conversation.DefaultTTL
	}
	return &ConversationStore{
		store: store,
		ttl:   ttl,
		nowFn: time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *ConversationStore) sessionLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

// sweep deletes sessions whose idle TTL elapsed. Message rows follow via
// the cascade.
func (s *ConversationStore) sweep(ctx context.Context) {
	now := s.nowFn().UTC()
	_, _ = s.store.db.ExecContext(ctx,
		`DELETE FROM ai_assistant_sessions WHERE ttl_expiry < ?`, now)
}

// Create opens a session with a fresh id
func (s *ConversationStore) Create(ctx context.Context, sessionCtx conversation.Context) (*conversation.Session, error) {
	now := s.nowFn().UTC()
	session := conversation.NewSession(sessionCtx, now, s.ttl)

	contextJSON, err := json.Marshal(sessionCtx)
	if err != nil {
		return nil, apperrors.Wrap(err, "encoding session context")
	}

	_, err = s.store.db.ExecContext(ctx,
		`INSERT INTO ai_assistant_sessions (id, context, created_at, updated_at, ttl_expiry)
		 VALUES (?, ?, ?, ?, ?)`,
		session.ID, string(contextJSON), session.CreatedAt, session.UpdatedAt, session.TTLExpiry)
	if err != nil {
		return nil, apperrors.Wrap(err, "creating session")
	}
	return session, nil
}

// Get returns a snapshot of the session with its full message log
func (s *ConversationStore) Get(ctx context.Context, id string) (*conversation.Session, error) {
	s.sweep(ctx)

	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	return s.load(ctx, id)
}

func (s *ConversationStore) load(ctx context.Context, id string) (*conversation.Session, error) {
	var header struct {
		ID        string    `db:"id"`
		Context   string    `db:"context"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
		TTLExpiry time.Time `db:"ttl_expiry"`
	}
	err := s.store.db.GetContext(ctx, &header,
		`SELECT id, context, created_at, updated_at, ttl_expiry FROM ai_assistant_sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("session " + id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "loading session")
	}

	var sessionCtx conversation.Context
	if err := json.Unmarshal([]byte(header.Context), &sessionCtx); err != nil {
		return nil, apperrors.Wrap(err, "decoding session context")
	}

	var rows []struct {
		Seq       int64     `db:"seq"`
		Role      string    `db:"role"`
		Content   string    `db:"content"`
		Metadata  string    `db:"metadata"`
		CreatedAt time.Time `db:"created_at"`
	}
	err = s.store.db.SelectContext(ctx, &rows,
		`SELECT seq, role, content, metadata, created_at FROM ai_assistant_messages
		 WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "loading session messages")
	}

	messages := make([]conversation.Message, len(rows))
	for i, row := range rows {
		var metadata map[string]interface{}
		if row.Metadata != "" && row.Metadata != "{}" {
			if err := json.Unmarshal([]byte(row.Metadata), &metadata); err != nil {
				return nil, apperrors.Wrap(err, "decoding message metadata")
			}
		}
		messages[i] = conversation.Message{
			ID:        row.Seq,
			Role:      conversation.Role(row.Role),
			Content:   row.Content,
			Timestamp: row.CreatedAt,
			Metadata:  metadata,
		}
	}

	return conversation.Restore(header.ID, messages, sessionCtx,
		header.CreatedAt, header.UpdatedAt, header.TTLExpiry), nil
}

// Append adds a message with the next sequence number and extends the TTL
func (s *ConversationStore) Append(ctx context.Context, id string, role conversation.Role, content string, metadata map[string]interface{}) (conversation.Message, error) {
	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return conversation.Message{}, err
	}

	now := s.nowFn().UTC()
	msg := session.Append(role, content, metadata, now, s.ttl)

	metadataJSON := "{}"
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return conversation.Message{}, apperrors.Wrap(err, "encoding message metadata")
		}
		metadataJSON = string(encoded)
	}

	tx, err := s.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return conversation.Message{}, apperrors.Wrap(err, "starting append transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ai_assistant_messages (session_id, seq, role, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, msg.ID, string(msg.Role), msg.Content, metadataJSON, msg.Timestamp)
	if err != nil {
		return conversation.Message{}, apperrors.Wrap(err, "appending message")
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE ai_assistant_sessions SET updated_at = ?, ttl_expiry = ? WHERE id = ?`,
		session.UpdatedAt, session.TTLExpiry, id)
	if err != nil {
		return conversation.Message{}, apperrors.Wrap(err, "extending session")
	}
	if err := tx.Commit(); err != nil {
		return conversation.Message{}, apperrors.Wrap(err, "committing append")
	}
	return msg, nil
}

// History returns the most recent messages in chronological order
func (s *ConversationStore) History(ctx context.Context, id string, window int) ([]conversation.Message, error) {
	s.sweep(ctx)

	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return session.Window(window), nil
}

// Delete removes the session and its messages
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	result, err := s.store.db.ExecContext(ctx,
		`DELETE FROM ai_assistant_sessions WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(err, "deleting session")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "deleting session")
	}
	if affected == 0 {
		return apperrors.NewNotFoundError("session " + id)
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
	return nil
}

// ActiveSessions counts live sessions after sweeping
func (s *ConversationStore) ActiveSessions(ctx context.Context) (int, error) {
	s.sweep(ctx)

	var count int
	if err := s.store.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM ai_assistant_sessions`); err != nil {
		return 0, apperrors.Wrap(err, "counting sessions")
	}
	return count, nil
}

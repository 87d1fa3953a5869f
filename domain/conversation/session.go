// Package conversation models per-session assistant state: an append-only
// message log with a bounded context window and an idle TTL.
package conversation

import (
	"time"

	"github.com/google/uuid"

	pkgerrors "datalens/pkg/errors"
)

const (
	// DefaultWindow is the number of trailing messages shown to the agent
	// when the caller does not override it.
	DefaultWindow = 10

	// DefaultTTL is the idle lifetime of a session. Sessions idle longer
	// are deleted by the on-read sweep. There is no absolute age cap.
	DefaultTTL = 24 * time.Hour
)

// Role identifies the author class of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry of a session log. IDs are monotonic per session.
type Message struct {
	ID        int64                  `json:"id"`
	Role      Role                   `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Context pins a session to the data scope the user is exploring
type Context struct {
	DataSource  string `json:"data_source,omitempty"`
	DataProduct string `json:"data_product,omitempty"`
	Schema      string `json:"schema,omitempty"`
	Table       string `json:"table,omitempty"`
}

// Session is the aggregate the conversation store persists. Messages are
// append-only; concurrent turns on one session are rejected upstream.
type Session struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	Context   Context   `json:"context"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TTLExpiry time.Time `json:"ttl_expiry"`

	nextMessageID int64
}

// NewSession creates an empty session with a fresh UUID
func NewSession(ctx Context, now time.Time, ttl time.Duration) *Session {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Session{
		ID:            uuid.New().String(),
		Messages:      []Message{},
		Context:       ctx,
		CreatedAt:     now,
		UpdatedAt:     now,
		TTLExpiry:     now.Add(ttl),
		nextMessageID: 1,
	}
}

// Restore rebuilds a session loaded from persistence, recovering the
// message-id sequence from the stored log.
func Restore(id string, messages []Message, ctx Context, createdAt, updatedAt, ttlExpiry time.Time) *Session {
	var maxID int64
	for _, m := range messages {
		if m.ID > maxID {
			maxID = m.ID
		}
	}
	if messages == nil {
		messages = []Message{}
	}
	return &Session{
		ID:            id,
		Messages:      messages,
		Context:       ctx,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
		TTLExpiry:     ttlExpiry,
		nextMessageID: maxID + 1,
	}
}

// Append adds a message to the log, assigns the next monotonic id, and
// pushes the idle TTL forward.
func (s *Session) Append(role Role, content string, metadata map[string]interface{}, now time.Time, ttl time.Duration) Message {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	msg := Message{
		ID:        s.nextMessageID,
		Role:      role,
		Content:   content,
		Timestamp: now,
		Metadata:  metadata,
	}
	s.nextMessageID++
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = now
	s.TTLExpiry = now.Add(ttl)
	return msg
}

// Window returns the last n messages in insertion order. A non-positive n
// selects the default window.
func (s *Session) Window(n int) []Message {
	if n <= 0 {
		n = DefaultWindow
	}
	if n >= len(s.Messages) {
		out := make([]Message, len(s.Messages))
		copy(out, s.Messages)
		return out
	}
	out := make([]Message, n)
	copy(out, s.Messages[len(s.Messages)-n:])
	return out
}

// Expired reports whether the session idled past its TTL
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.TTLExpiry)
}

// Clone returns a deep copy for handing across goroutine boundaries
func (s *Session) Clone() *Session {
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	for i, m := range s.Messages {
		if m.Metadata != nil {
			meta := make(map[string]interface{}, len(m.Metadata))
			for k, v := range m.Metadata {
				meta[k] = v
			}
			msgs[i].Metadata = meta
		}
	}
	return &Session{
		ID:            s.ID,
		Messages:      msgs,
		Context:       s.Context,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		TTLExpiry:     s.TTLExpiry,
		nextMessageID: s.nextMessageID,
	}
}

// ValidateContext rejects unknown data sources early, before a turn starts
func ValidateContext(ctx Context, knownSources []string) error {
	if ctx.DataSource == "" {
		return nil
	}
	for _, s := range knownSources {
		if ctx.DataSource == s {
			return nil
		}
	}
	return pkgerrors.NewValidationError("unknown data source " + ctx.DataSource)
}

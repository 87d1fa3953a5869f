package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	now := time.Now()
	s := NewSession(Context{DataSource: "primary"}, now, 0)

	m1 := s.Append(RoleUser, "hello", nil, now, 0)
	m2 := s.Append(RoleAssistant, "hi", nil, now.Add(time.Second), 0)
	m3 := s.Append(RoleUser, "show invoices", nil, now.Add(2*time.Second), 0)

	assert.Equal(t, int64(1), m1.ID)
	assert.Equal(t, int64(2), m2.ID)
	assert.Equal(t, int64(3), m3.ID)
	assert.Len(t, s.Messages, 3)
}

func TestWindowReturnsLastNInOrder(t *testing.T) {
	now := time.Now()
	s := NewSession(Context{}, now, 0)
	for i := 0; i < 25; i++ {
		s.Append(RoleUser, fmt.Sprintf("message %d", i), nil, now, 0)
	}

	window := s.Window(10)
	require.Len(t, window, 10)
	assert.Equal(t, "message 15", window[0].Content)
	assert.Equal(t, "message 24", window[9].Content)

	// Non-positive window selects the default
	def := s.Window(0)
	assert.Len(t, def, DefaultWindow)

	// Window larger than the log returns everything
	all := s.Window(100)
	assert.Len(t, all, 25)
	assert.Equal(t, "message 0", all[0].Content)
}

func TestWindowOnShortLog(t *testing.T) {
	now := time.Now()
	s := NewSession(Context{}, now, 0)
	s.Append(RoleUser, "only one", nil, now, 0)

	window := s.Window(10)
	require.Len(t, window, 1)
	assert.Equal(t, "only one", window[0].Content)
}

func TestAppendExtendsTTL(t *testing.T) {
	start := time.Now()
	s := NewSession(Context{}, start, time.Hour)
	assert.Equal(t, start.Add(time.Hour), s.TTLExpiry)

	later := start.Add(30 * time.Minute)
	s.Append(RoleUser, "still here", nil, later, time.Hour)
	assert.Equal(t, later.Add(time.Hour), s.TTLExpiry)

	assert.False(t, s.Expired(later))
	assert.True(t, s.Expired(later.Add(2*time.Hour)))
}

func TestRestoreRecoversSequence(t *testing.T) {
	now := time.Now()
	msgs := []Message{
		{ID: 1, Role: RoleUser, Content: "a", Timestamp: now},
		{ID: 2, Role: RoleAssistant, Content: "b", Timestamp: now},
	}

	s := Restore("session-1", msgs, Context{DataProduct: "Invoice"}, now, now, now.Add(time.Hour))
	m := s.Append(RoleUser, "c", nil, now, 0)

	assert.Equal(t, int64(3), m.ID)
	assert.Equal(t, "Invoice", s.Context.DataProduct)
}

func TestCloneIsIndependent(t *testing.T) {
	now := time.Now()
	s := NewSession(Context{}, now, 0)
	s.Append(RoleUser, "original", map[string]interface{}{"key": "value"}, now, 0)

	clone := s.Clone()
	clone.Messages[0].Content = "mutated"
	clone.Messages[0].Metadata["key"] = "mutated"

	assert.Equal(t, "original", s.Messages[0].Content)
	assert.Equal(t, "value", s.Messages[0].Metadata["key"])
}

func TestValidateContext(t *testing.T) {
	known := []string{"primary", "remote"}

	assert.NoError(t, ValidateContext(Context{}, known))
	assert.NoError(t, ValidateContext(Context{DataSource: "remote"}, known))
	assert.Error(t, ValidateContext(Context{DataSource: "lakehouse"}, known))
}

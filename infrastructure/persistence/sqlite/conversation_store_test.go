package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/domain/conversation"
	apperrors "datalens/pkg/errors"
)

func newTestConversationStore(t *testing.T) *ConversationStore {
	t.Helper()
	return NewConversationStore(newTestStore(t), 24*time.Hour)
}

func TestConversationStore_CreateAndGet(t *testing.T) {
	store := newTestConversationStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, conversation.Context{DataProduct: "Invoice", Schema: "default"})
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, loaded.ID)
	assert.Equal(t, "Invoice", loaded.Context.DataProduct)
	assert.Empty(t, loaded.Messages)
}

func TestConversationStore_GetUnknown(t *testing.T) {
	store := newTestConversationStore(t)

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestConversationStore_AppendAssignsMonotonicIDs(t *testing.T) {
	store := newTestConversationStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, conversation.Context{})
	require.NoError(t, err)

	first, err := store.Append(ctx, session.ID, conversation.RoleUser, "show open invoices", nil)
	require.NoError(t, err)
	second, err := store.Append(ctx, session.ID, conversation.RoleAssistant, "two invoices are open",
		map[string]interface{}{"confidence": 0.9})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)

	// The sequence survives a reload from persistence
	third, err := store.Append(ctx, session.ID, conversation.RoleUser, "and overdue ones?", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), third.ID)

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 3)
	assert.Equal(t, conversation.RoleAssistant, loaded.Messages[1].Role)
	assert.Equal(t, 0.9, loaded.Messages[1].Metadata["confidence"])
}

func TestConversationStore_AppendToUnknownSession(t *testing.T) {
	store := newTestConversationStore(t)

	_, err := store.Append(context.Background(), "missing", conversation.RoleUser, "hello", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestConversationStore_HistoryWindow(t *testing.T) {
	store := newTestConversationStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, conversation.Context{})
	require.NoError(t, err)

	for i := 0; i < 14; i++ {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		_, err := store.Append(ctx, session.ID, role, fmt.Sprintf("message %d", i+1), nil)
		require.NoError(t, err)
	}

	window, err := store.History(ctx, session.ID, conversation.DefaultWindow)
	require.NoError(t, err)
	require.Len(t, window, 10)
	assert.Equal(t, "message 5", window[0].Content)
	assert.Equal(t, "message 14", window[9].Content)

	// A zero window selects the default
	defaulted, err := store.History(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Len(t, defaulted, 10)

	all, err := store.History(ctx, session.ID, 50)
	require.NoError(t, err)
	assert.Len(t, all, 14)
}

func TestConversationStore_SweepDropsExpiredSessions(t *testing.T) {
	store := newTestConversationStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.nowFn = func() time.Time { return base }

	stale, err := store.Create(ctx, conversation.Context{})
	require.NoError(t, err)
	_, err = store.Append(ctx, stale.ID, conversation.RoleUser, "soon forgotten", nil)
	require.NoError(t, err)

	// Fresh activity on a second session keeps it past the sweep
	store.nowFn = func() time.Time { return base.Add(23 * time.Hour) }
	fresh, err := store.Create(ctx, conversation.Context{})
	require.NoError(t, err)

	store.nowFn = func() time.Time { return base.Add(25 * time.Hour) }

	count, err := store.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.Get(ctx, stale.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = store.Get(ctx, fresh.ID)
	require.NoError(t, err)

	// Message rows cascade with their session
	var orphaned int
	require.NoError(t, store.store.db.Get(&orphaned,
		`SELECT COUNT(*) FROM ai_assistant_messages WHERE session_id = ?`, stale.ID))
	assert.Zero(t, orphaned)
}

func TestConversationStore_ActivityExtendsTTL(t *testing.T) {
	store := newTestConversationStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.nowFn = func() time.Time { return base }

	session, err := store.Create(ctx, conversation.Context{})
	require.NoError(t, err)

	// An append 20 hours in pushes expiry to base+44h
	store.nowFn = func() time.Time { return base.Add(20 * time.Hour) }
	_, err = store.Append(ctx, session.ID, conversation.RoleUser, "still here", nil)
	require.NoError(t, err)

	store.nowFn = func() time.Time { return base.Add(30 * time.Hour) }
	_, err = store.Get(ctx, session.ID)
	require.NoError(t, err)

	store.nowFn = func() time.Time { return base.Add(45 * time.Hour) }
	_, err = store.Get(ctx, session.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestConversationStore_Delete(t *testing.T) {
	store := newTestConversationStore(t)
	ctx := context.Background()

	session, err := store.Create(ctx, conversation.Context{})
	require.NoError(t, err)
	_, err = store.Append(ctx, session.ID, conversation.RoleUser, "delete me", nil)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, session.ID))

	err = store.Delete(ctx, session.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = store.Get(ctx, session.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

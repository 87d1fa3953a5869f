package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalens/domain/conversation"
	apperrors "datalens/pkg/errors"
)

func TestConversationStore_CreateAndGet(t *testing.T) {
	store := NewConversationStore(0)
	ctx := context.Background()

	session, err := store.Create(ctx, conversation.Context{DataProduct: "Invoice", Schema: "default"})
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice", loaded.Context.DataProduct)
	assert.Empty(t, loaded.Messages)

	_, err = store.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestConversationStore_SnapshotsAreIsolated(t *testing.T) {
	store := NewConversationStore(0)
	ctx := context.Background()

	session, err := store.Create(ctx, conversation.Context{})
	require.NoError(t, err)

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	loaded.Messages = append(loaded.Messages, conversation.Message{ID: 99, Role: conversation.RoleUser})

	again, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Messages)
}

func TestConversationStore_HistoryWindow(t *testing.T) {
	store := NewConversationStore(0)
	ctx := context.Background()

	session, err := store.Create(ctx, conversation.Context{})
	require.NoError(t, err)

	for i := 0; i < 14; i++ {
		_, err := store.Append(ctx, session.ID, conversation.RoleUser, "message", nil)
		require.NoError(t, err)
	}

	window, err := store.History(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, window, conversation.DefaultWindow)
	assert.Equal(t, int64(5), window[0].ID)
	assert.Equal(t, int64(14), window[len(window)-1].ID)

	full, err := store.History(ctx, session.ID, 50)
	require.NoError(t, err)
	assert.Len(t, full, 14)
}

func TestConversationStore_SweepDropsExpiredSessions(t *testing.T) {
	store := NewConversationStore(time.Hour)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store.nowFn = func() time.Time { return now }

	ctx := context.Background()
	stale, err := store.Create(ctx, conversation.Context{})
	require.NoError(t, err)

	now = base.Add(50 * time.Minute)
	fresh, err := store.Create(ctx, conversation.Context{})
	require.NoError(t, err)

	now = base.Add(90 * time.Minute)
	count, err := store.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.Get(ctx, stale.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestConversationStore_AppendExtendsTTL(t *testing.T) {
	store := NewConversationStore(time.Hour)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store.nowFn = func() time.Time { return now }

	ctx := context.Background()
	session, err := store.Create(ctx, conversation.Context{})
	require.NoError(t, err)

	now = base.Add(50 * time.Minute)
	_, err = store.Append(ctx, session.ID, conversation.RoleUser, "still here", nil)
	require.NoError(t, err)

	now = base.Add(100 * time.Minute)
	_, err = store.Get(ctx, session.ID)
	assert.NoError(t, err)

	now = base.Add(200 * time.Minute)
	_, err = store.Get(ctx, session.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestConversationStore_Delete(t *testing.T) {
	store := NewConversationStore(0)
	ctx := context.Background()

	session, err := store.Create(ctx, conversation.Context{})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, session.ID))
	err = store.Delete(ctx, session.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestConversationStore_ConcurrentAppends(t *testing.T) {
	store := NewConversationStore(0)
	ctx := context.Background()

	session, err := store.Create(ctx, conversation.Context{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Append(ctx, session.ID, conversation.RoleUser, "ping", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 20)

	seen := make(map[int64]bool, 20)
	for _, msg := range loaded.Messages {
		assert.False(t, seen[msg.ID], "message id %d assigned twice", msg.ID)
		seen[msg.ID] = true
	}
}

package history

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sammcj/answer-engine/internal/search"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := Open(filepath.Join(t.TempDir(), "history.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestChatRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureChat(ctx, "chat-1", "what is quic?"))
	require.NoError(t, store.RecordUserMessage(ctx, "chat-1", "msg-1", "what is quic?"))

	score := 0.9
	sources := []search.Result{
		{Title: "QUIC", URL: "https://example.com/quic", Score: &score},
	}
	require.NoError(t, store.RecordAnswer(ctx, "chat-1", "msg-2", "QUIC is a transport protocol[1].", sources))

	chats, err := store.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "chat-1", chats[0].ID)
	assert.Equal(t, "what is quic?", chats[0].Title)

	msgs, err := store.Messages(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "what is quic?", msgs[0].Content)
	assert.Empty(t, msgs[0].Sources)

	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "QUIC is a transport protocol[1].", msgs[1].Content)
	require.Len(t, msgs[1].Sources, 1)
	assert.Equal(t, "https://example.com/quic", msgs[1].Sources[0].URL)
}

func TestEnsureChatIsIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureChat(ctx, "chat-1", "first title"))
	require.NoError(t, store.EnsureChat(ctx, "chat-1", "second title"))

	chats, err := store.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "first title", chats[0].Title)
}

func TestDeleteChatRemovesMessages(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureChat(ctx, "chat-1", "t"))
	require.NoError(t, store.RecordUserMessage(ctx, "chat-1", "msg-1", "hello"))
	require.NoError(t, store.EnsureChat(ctx, "chat-2", "t2"))
	require.NoError(t, store.RecordUserMessage(ctx, "chat-2", "msg-2", "hi"))

	require.NoError(t, store.DeleteChat(ctx, "chat-1"))

	chats, err := store.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "chat-2", chats[0].ID)

	msgs, err := store.Messages(ctx, "chat-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMessagesUnknownChatIsEmpty(t *testing.T) {
	store := testStore(t)

	msgs, err := store.Messages(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

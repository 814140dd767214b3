// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/termchat/internal/model"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// =============================================================================
// CONVERSATION STORE TESTS
// =============================================================================

func TestStore_CreateAppendGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})

	id, err := s.CreateConversation(ctx, "", "llama3", "concise")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, s.AppendMessage(ctx, id, model.RoleUser, "Hello"))
	require.NoError(t, s.AppendMessage(ctx, id, model.RoleAssistant, "Hi there!"))

	conv, err := s.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, conv.ID)
	assert.Equal(t, "llama3", conv.Model)
	assert.Equal(t, "concise", conv.Style)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Hello", conv.Messages[0].Content)
	assert.Equal(t, model.RoleAssistant, conv.Messages[1].Role)
	assert.False(t, conv.UpdatedAt.Before(conv.CreatedAt))
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})

	_, err := s.GetConversation(ctx, "nope")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	err = s.AppendMessage(ctx, "nope", model.RoleUser, "x")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	assert.ErrorIs(t, s.UpdateTitle(ctx, "nope", "t"), ErrConversationNotFound)
	assert.ErrorIs(t, s.DeleteConversation(ctx, "nope"), ErrConversationNotFound)

	var ce *ConversationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "nope", ce.ID)
	assert.Contains(t, err.Error(), "nope")
}

func TestStore_UpdateTitle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})

	id, err := s.CreateConversation(ctx, "", "gpt-4", "default")
	require.NoError(t, err)
	require.NoError(t, s.UpdateTitle(ctx, id, "Go channels"))

	conv, err := s.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Go channels", conv.Title)
	assert.Equal(t, "Go channels", conv.DisplayTitle())
}

func TestStore_DeleteCascadesMessages(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})

	id, err := s.CreateConversation(ctx, "", "gpt-4", "default")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, id, model.RoleUser, "hi"))
	require.NoError(t, s.DeleteConversation(ctx, id))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n))
	assert.Zero(t, n)

	_, err = s.GetConversation(ctx, id)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})

	a, err := s.CreateConversation(ctx, "first", "m", "default")
	require.NoError(t, err)
	b, err := s.CreateConversation(ctx, "second", "m", "default")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, b, model.RoleUser, "question\nwith newline"))
	require.NoError(t, s.AppendMessage(ctx, b, model.RoleAssistant, "answer"))

	// Touching a moves it to the front.
	require.NoError(t, s.AppendMessage(ctx, a, model.RoleUser, "later"))

	list, err := s.ListConversations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a, list[0].ID)
	assert.Equal(t, b, list[1].ID)
	assert.Equal(t, 2, list[1].MessageCount)
	assert.Equal(t, "question with newline", list[1].Preview)

	limited, err := s.ListConversations(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_EmptyList(t *testing.T) {
	s := openTestStore(t, Options{})
	list, err := s.ListConversations(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
	assert.Equal(t, "No conversations found.", FormatList(list))
}

func TestStore_PrunesBeyondLimit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{MaxConversations: 3})

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.CreateConversation(ctx, "", "m", "default")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	list, err := s.ListConversations(ctx, 100)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[4], list[0].ID)

	_, err = s.GetConversation(ctx, ids[0])
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestStore_Search(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})

	a, err := s.CreateConversation(ctx, "Rust lifetimes", "m", "default")
	require.NoError(t, err)
	b, err := s.CreateConversation(ctx, "", "m", "default")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, b, model.RoleUser, "explain 100% of goroutines"))

	got, err := s.SearchConversations(ctx, "lifetimes", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a, got[0].ID)

	got, err = s.SearchConversations(ctx, "100%", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b, got[0].ID)

	got, err = s.SearchConversations(ctx, "  ", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStore_ResolveID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})

	id, err := s.CreateConversation(ctx, "", "m", "default")
	require.NoError(t, err)

	got, err := s.ResolveID(ctx, id[:8])
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = s.ResolveID(ctx, "zzzz")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})
	id, err := s.CreateConversation(ctx, "", "m", "default")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AppendMessage(ctx, id, model.RoleUser, "x"))
		}()
	}
	wg.Wait()

	conv, err := s.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 10)
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func TestConversation_Turns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})
	id, err := s.CreateConversation(ctx, "", "llama3", "default")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, id, model.RoleUser, "hi"))
	require.NoError(t, s.AppendMessage(ctx, id, model.RoleAssistant, "Error: could not reach ollama: connection failed"))

	conv, err := s.GetConversation(ctx, id)
	require.NoError(t, err)

	turns := conv.Turns()
	require.Len(t, turns, 2)
	assert.True(t, turns[0].IsComplete)
	assert.False(t, turns[0].IsError)
	assert.True(t, turns[1].IsError)

	assert.Equal(t, "Untitled conversation", conv.DisplayTitle())
}

func TestFormatList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})
	id, err := s.CreateConversation(ctx, "A title", "m", "default")
	require.NoError(t, err)

	list, err := s.ListConversations(ctx, 0)
	require.NoError(t, err)
	out := FormatList(list)
	assert.Contains(t, out, id[:8])
	assert.Contains(t, out, "A title")
	assert.NotContains(t, out, id, "ids are shortened")
}

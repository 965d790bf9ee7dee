// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/relaychat/internal/model"
)

func TestStore_CreateSelectDelete(t *testing.T) {
	s := NewStore()

	first := s.Create("hi")
	time.Sleep(time.Millisecond)
	second := s.Create("hi")

	assert.Equal(t, second.ID, s.ActiveID(), "Create activates the new conversation")
	assert.Equal(t, 2, s.Len())

	require.NoError(t, s.Select(first.ID))
	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, first.ID, active.ID)

	assert.ErrorIs(t, s.Select("missing"), ErrConversationNotFound)

	require.NoError(t, s.Delete(first.ID))
	assert.Equal(t, second.ID, s.ActiveID(), "deleting the active conversation activates the newest remaining one")

	require.NoError(t, s.Delete(second.ID))
	assert.Equal(t, "", s.ActiveID())
	_, ok = s.Active()
	assert.False(t, ok)

	assert.ErrorIs(t, s.Delete(second.ID), ErrConversationNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := NewStore()
	a := s.Create("")
	time.Sleep(time.Millisecond)
	b := s.Create("")
	time.Sleep(time.Millisecond)

	_, err := s.Update(a.ID, func(c model.Conversation) model.Conversation {
		return c.Append(model.NewUserMessage("bump"))
	})
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}

func TestStore_UpdateMissing(t *testing.T) {
	s := NewStore()
	_, err := s.Update("nope", func(c model.Conversation) model.Conversation { return c })
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestStore_ConcurrentUpdatesAreNotLost(t *testing.T) {
	s := NewStore()
	conv := s.Create("")
	s.Update(conv.ID, func(c model.Conversation) model.Conversation {
		return c.Append(model.NewAssistantMessage(""))
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(conv.ID, func(c model.Conversation) model.Conversation {
				next, _ := c.AppendToLastAssistant("x")
				return next
			})
		}()
	}
	wg.Wait()

	got, _ := s.Get(conv.ID)
	last, _ := got.LastMessage()
	assert.Len(t, last.Content, 100)
}

func TestStore_SnapshotsAreIsolated(t *testing.T) {
	s := NewStore()
	conv := s.Create("")
	s.Update(conv.ID, func(c model.Conversation) model.Conversation {
		return c.Append(model.NewAssistantMessage("a"))
	})

	before, _ := s.Get(conv.ID)
	s.Update(conv.ID, func(c model.Conversation) model.Conversation {
		next, _ := c.AppendToLastAssistant("b")
		return next
	})

	last, _ := before.LastMessage()
	assert.Equal(t, "a", last.Content, "earlier snapshot must not change")
}

func TestStore_Put(t *testing.T) {
	s := NewStore()
	active := s.Create("")
	loaded := model.NewConversation("")
	s.Put(loaded)

	_, ok := s.Get(loaded.ID)
	assert.True(t, ok)
	assert.Equal(t, active.ID, s.ActiveID(), "Put must not change the active conversation")
}

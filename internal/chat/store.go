// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sort"
	"sync"

	"github.com/jeranaias/relaychat/internal/model"
)

// UpdateFunc derives a new conversation from the latest snapshot. It must
// not retain or modify its argument's message slice.
type UpdateFunc func(model.Conversation) model.Conversation

// Store holds conversations and the id of the active one. Every mutation
// goes through Update, which applies a pure function to the latest snapshot
// under the store lock, so concurrent updates are applied in call order and
// none is lost.
type Store struct {
	mu       sync.RWMutex
	convs    map[string]model.Conversation
	activeID string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{convs: make(map[string]model.Conversation)}
}

// Create adds a new conversation and makes it active.
func (s *Store) Create(greeting string) model.Conversation {
	conv := model.NewConversation(greeting)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv.ID] = conv
	s.activeID = conv.ID
	return conv
}

// Put inserts or replaces a conversation without changing the active one.
func (s *Store) Put(conv model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv.ID] = conv
}

// Get returns the latest snapshot of a conversation.
func (s *Store) Get(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	return conv, ok
}

// Update applies fn to the latest snapshot of id and stores the result.
func (s *Store) Update(id string, fn UpdateFunc) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[id]
	if !ok {
		return model.Conversation{}, ErrConversationNotFound
	}
	conv = fn(conv)
	s.convs[id] = conv
	return conv, nil
}

// ActiveID returns the active conversation id, "" when there is none.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Active returns the active conversation.
func (s *Store) Active() (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[s.activeID]
	return conv, ok
}

// Select makes id the active conversation.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return ErrConversationNotFound
	}
	s.activeID = id
	return nil
}

// Delete removes a conversation. Deleting the active conversation activates
// the most recently updated remaining one.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[id]; !ok {
		return ErrConversationNotFound
	}
	delete(s.convs, id)

	if s.activeID == id {
		s.activeID = ""
		if list := s.sortedLocked(); len(list) > 0 {
			s.activeID = list[0].ID
		}
	}
	return nil
}

// List returns all conversations, most recently updated first.
func (s *Store) List() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

func (s *Store) sortedLocked() []model.Conversation {
	list := make([]model.Conversation, 0, len(s.convs))
	for _, conv := range s.convs {
		list = append(list, conv)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list
}

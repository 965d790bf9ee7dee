// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/util"
)

// DefaultMaxConversations bounds a FileStore unless configured otherwise.
const DefaultMaxConversations = 100

const activeFile = "active.id"

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps each conversation in BaseDir/<id>.json.
type FileStore struct {
	// BaseDir is the directory for storing conversations.
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited).
	// The least recently updated are removed first.
	MaxConversations int

	mu sync.Mutex
}

// NewFileStore creates a store in baseDir, creating the directory.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	return &FileStore{
		BaseDir:          baseDir,
		MaxConversations: DefaultMaxConversations,
	}, nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save writes conv atomically, replacing any earlier version.
func (s *FileStore) Save(conv model.Conversation) error {
	if err := validID(conv.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := util.AtomicWriteFileWithDir(s.filePath(conv.ID), data, 0600, 0700); err != nil {
		return err
	}

	if s.MaxConversations > 0 {
		s.enforceLimitLocked()
	}
	return nil
}

// enforceLimitLocked removes the oldest conversations beyond the limit.
func (s *FileStore) enforceLimitLocked() {
	metas, err := s.listLocked()
	if err != nil || len(metas) <= s.MaxConversations {
		return
	}
	// metas is newest first.
	for _, meta := range metas[s.MaxConversations:] {
		os.Remove(s.filePath(meta.ID))
	}
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a conversation by ID.
func (s *FileStore) Load(id string) (model.Conversation, error) {
	if err := validID(id); err != nil {
		return model.Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *FileStore) loadLocked(id string) (model.Conversation, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return model.Conversation{}, ErrConversationNotFound
		}
		return model.Conversation{}, err
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return model.Conversation{}, err
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	return conv, nil
}

// LoadByIndex loads a conversation by its index in the list (0 = most recent).
func (s *FileStore) LoadByIndex(index int) (model.Conversation, error) {
	metas, err := s.List()
	if err != nil {
		return model.Conversation{}, err
	}
	if index < 0 || index >= len(metas) {
		return model.Conversation{}, ErrConversationNotFound
	}
	return s.Load(metas[index].ID)
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns all saved conversations, most recent first. Unreadable files
// are skipped.
func (s *FileStore) List() ([]ConversationMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *FileStore) listLocked() ([]ConversationMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ConversationMeta{}, nil
		}
		return nil, err
	}

	metas := []ConversationMeta{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		conv, err := s.loadLocked(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		metas = append(metas, MetaOf(conv))
	}

	sortMetas(metas)
	return metas, nil
}

// Search finds conversations whose title or preview contains query,
// ignoring case.
func (s *FileStore) Search(query string) ([]ConversationMeta, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	return filterMetas(all, query), nil
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a conversation by ID.
func (s *FileStore) Delete(id string) error {
	if err := validID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// Clear removes all saved conversations.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			os.Remove(filepath.Join(s.BaseDir, entry.Name()))
		}
	}
	return nil
}

// =============================================================================
// ACTIVE CONVERSATION
// =============================================================================

// SaveActiveID records id as the conversation to resume.
func (s *FileStore) SaveActiveID(id string) error {
	return util.AtomicWriteFileWithDir(filepath.Join(s.BaseDir, activeFile), []byte(id), 0600, 0700)
}

// LoadActiveID returns the recorded conversation id.
func (s *FileStore) LoadActiveID() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.BaseDir, activeFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// filePath returns the file path for a conversation ID.
func (s *FileStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

func sortMetas(metas []ConversationMeta) {
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].UpdatedAt.Equal(metas[j].UpdatedAt) {
			return metas[i].ID < metas[j].ID
		}
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
}

func filterMetas(all []ConversationMeta, query string) []ConversationMeta {
	query = strings.ToLower(strings.TrimSpace(query))
	results := []ConversationMeta{}
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Title), query) ||
			strings.Contains(strings.ToLower(meta.Preview), query) {
			results = append(results, meta)
		}
	}
	return results
}

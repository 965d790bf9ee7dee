// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/relaychat/internal/model"
)

// sqliteSchema is applied on every open.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	message_count INTEGER NOT NULL,
	preview       TEXT NOT NULL DEFAULT '',
	messages      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);
CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore keeps conversations in one SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Save upserts conv.
func (s *SQLiteStore) Save(conv model.Conversation) error {
	if err := validID(conv.ID); err != nil {
		return err
	}
	msgs := conv.Messages
	if msgs == nil {
		msgs = []model.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	meta := MetaOf(conv)

	_, err = s.db.Exec(`
		INSERT INTO conversations (id, title, created_at, updated_at, message_count, preview, messages)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			updated_at = excluded.updated_at,
			message_count = excluded.message_count,
			preview = excluded.preview,
			messages = excluded.messages`,
		conv.ID, conv.Title, conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano(),
		meta.MessageCount, meta.Preview, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// Load retrieves a conversation by ID.
func (s *SQLiteStore) Load(id string) (model.Conversation, error) {
	var (
		conv             model.Conversation
		created, updated int64
		data             string
	)
	err := s.db.QueryRow(
		`SELECT id, title, created_at, updated_at, messages FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.Title, &created, &updated, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("failed to load conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(data), &conv.Messages); err != nil {
		return model.Conversation{}, fmt.Errorf("failed to decode messages: %w", err)
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	conv.CreatedAt = time.Unix(0, created)
	conv.UpdatedAt = time.Unix(0, updated)
	return conv, nil
}

// List returns all conversations, most recent first.
func (s *SQLiteStore) List() ([]ConversationMeta, error) {
	rows, err := s.db.Query(`
		SELECT id, title, created_at, updated_at, message_count, preview
		FROM conversations
		ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	metas := []ConversationMeta{}
	for rows.Next() {
		var (
			meta             ConversationMeta
			created, updated int64
		)
		if err := rows.Scan(&meta.ID, &meta.Title, &created, &updated, &meta.MessageCount, &meta.Preview); err != nil {
			return nil, err
		}
		meta.CreatedAt = time.Unix(0, created)
		meta.UpdatedAt = time.Unix(0, updated)
		if meta.Title == "" {
			meta.Title = model.DefaultTitle
		}
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// Search finds conversations whose title or preview contains query,
// ignoring case.
func (s *SQLiteStore) Search(query string) ([]ConversationMeta, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	return filterMetas(all, query), nil
}

// Delete removes a conversation by ID.
func (s *SQLiteStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// SaveActiveID records id as the conversation to resume.
func (s *SQLiteStore) SaveActiveID(id string) error {
	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value) VALUES ('active_id', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, id)
	return err
}

// LoadActiveID returns the recorded conversation id.
func (s *SQLiteStore) LoadActiveID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = 'active_id'`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

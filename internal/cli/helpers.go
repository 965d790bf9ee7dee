// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jeranaias/relaychat/internal/chat"
	"github.com/jeranaias/relaychat/internal/config"
	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/storage"
)

// loadConfig loads --config when given, otherwise the default file.
func loadConfig(args Args) (*config.Config, error) {
	if args.ConfigPath != "" {
		return config.LoadFromPath(args.ConfigPath)
	}
	return config.Load()
}

// workspace pairs the persisted conversations with the in-memory store the
// controller works on.
type workspace struct {
	cfg     *config.Config
	backend storage.Store
	store   *chat.Store
}

// openWorkspace opens the configured storage backend and loads every saved
// conversation into a fresh store. Conversations that fail to load are
// skipped with a log line.
func openWorkspace(cfg *config.Config) (*workspace, error) {
	dir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	backend, err := storage.New(cfg.Client.Storage, dir)
	if err != nil {
		return nil, NewCommandError("storage", "open", "could not open conversation storage", err)
	}

	ws := &workspace{cfg: cfg, backend: backend, store: chat.NewStore()}
	metas, err := backend.List()
	if err != nil {
		backend.Close()
		return nil, NewCommandError("storage", "list", "could not list conversations", err)
	}
	for _, meta := range metas {
		conv, err := backend.Load(meta.ID)
		if err != nil {
			log.Printf("STORE_LOAD_FAILED | id=%s error=%v", meta.ID, err)
			continue
		}
		ws.store.Put(conv)
	}
	return ws, nil
}

// Save implements chat.Persister.
func (w *workspace) Save(conv model.Conversation) error {
	return w.backend.Save(conv)
}

// activate selects the conversation to continue: ref when given, a new one
// when fresh is set, else the one active last time, else the most recent.
// A new conversation is created when nothing else applies.
func (w *workspace) activate(ref string, fresh bool) (model.Conversation, error) {
	var id string
	switch {
	case fresh:
	case ref != "":
		var err error
		if id, err = storage.ResolveID(w.metas(), ref); err != nil {
			return model.Conversation{}, err
		}
	default:
		if saved, err := w.backend.LoadActiveID(); err == nil {
			if _, ok := w.store.Get(saved); ok {
				id = saved
			}
		}
		if id == "" {
			if convs := w.store.List(); len(convs) > 0 {
				id = convs[0].ID
			}
		}
	}

	if id == "" {
		return w.create(), nil
	}
	return w.selectID(id)
}

func (w *workspace) create() model.Conversation {
	conv := w.store.Create(model.DefaultGreeting)
	w.rememberActive(conv.ID)
	return conv
}

func (w *workspace) selectID(id string) (model.Conversation, error) {
	if err := w.store.Select(id); err != nil {
		return model.Conversation{}, err
	}
	w.rememberActive(id)
	conv, _ := w.store.Get(id)
	return conv, nil
}

func (w *workspace) remove(id string) error {
	if err := w.backend.Delete(id); err != nil && !errors.Is(err, storage.ErrConversationNotFound) {
		return err
	}
	if err := w.store.Delete(id); err != nil {
		return err
	}
	if active := w.store.ActiveID(); active != "" {
		w.rememberActive(active)
	}
	return nil
}

func (w *workspace) rememberActive(id string) {
	if err := w.backend.SaveActiveID(id); err != nil {
		log.Printf("STORE_ACTIVE_FAILED | id=%s error=%v", id, err)
	}
}

// metas returns summaries of the in-memory conversations, newest first.
func (w *workspace) metas() []storage.ConversationMeta {
	convs := w.store.List()
	metas := make([]storage.ConversationMeta, 0, len(convs))
	for _, conv := range convs {
		metas = append(metas, storage.MetaOf(conv))
	}
	return metas
}

func (w *workspace) Close() error {
	return w.backend.Close()
}

// formatDurationShort formats a short duration string.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

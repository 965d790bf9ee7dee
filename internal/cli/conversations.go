// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// conversations.go - Saved conversation management.
//
// Examples:
//
//	relaychat conversations
//	relaychat conversations show 1
//	relaychat conversations export 3f2a > chat.md
//	relaychat conversations delete 2
//	relaychat --json conversations list
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/storage"
)

const conversationsUsage = "relaychat conversations [list|show|export|delete] [N|ID]"

// ConversationsData is the JSON form of the conversation list.
type ConversationsData struct {
	Count         int                        `json:"count"`
	Conversations []storage.ConversationMeta `json:"conversations"`
}

// HandleConversations handles the "conversations" command.
func HandleConversations(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	ws, err := openWorkspace(cfg)
	if err != nil {
		return err
	}
	defer ws.Close()

	return runConversations(ws, args, os.Stdout)
}

func runConversations(ws *workspace, args Args, out io.Writer) error {
	p := args.Parser
	sub := strings.ToLower(p.Subcommand())
	ref := p.Positional(1)

	switch sub {
	case "", "list", "ls":
		metas := ws.metas()
		if args.JSON {
			return NewJSONResponse("conversations", ConversationsData{Count: len(metas), Conversations: metas}).Encode(out)
		}
		fmt.Fprint(out, storage.FormatList(metas))
		return nil

	case "show", "export":
		conv, err := lookupConversation(ws, ref, sub)
		if err != nil {
			return err
		}
		switch {
		case sub == "export":
			fmt.Fprint(out, storage.ExportMarkdown(conv))
		case args.JSON:
			return NewJSONResponse("conversations", conv).Encode(out)
		default:
			printTranscript(out, conv, IsStdoutTTY())
		}
		return nil

	case "delete", "rm":
		conv, err := lookupConversation(ws, ref, sub)
		if err != nil {
			return err
		}
		if err := ws.remove(conv.ID); err != nil {
			return NewCommandError("conversations", "delete", "could not delete conversation", err)
		}
		if args.JSON {
			return NewJSONResponse("conversations", map[string]string{"deleted": conv.ID}).Encode(out)
		}
		if !args.Quiet {
			fmt.Fprintf(out, "%s %s\n", SuccessStyle.Render("[Deleted]"), conv.GetTitle())
		}
		return nil

	default:
		return ErrUnknownSubcommand("conversations", sub, conversationsUsage)
	}
}

func lookupConversation(ws *workspace, ref, sub string) (model.Conversation, error) {
	if ref == "" {
		return model.Conversation{}, ErrMissingArgument("conversation", "relaychat conversations "+sub+" 1")
	}
	id, err := storage.ResolveID(ws.metas(), ref)
	if err != nil {
		return model.Conversation{}, err
	}
	conv, ok := ws.store.Get(id)
	if !ok {
		return model.Conversation{}, storage.ErrConversationNotFound
	}
	return conv, nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/util"
)

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatList renders metas as a numbered table. Numbers start at 1 and
// match the order of metas. Columns are measured in terminal cells, so wide
// titles stay aligned.
func FormatList(metas []ConversationMeta) string {
	if len(metas) == 0 {
		return "No conversations found."
	}

	const (
		numWidth     = 4
		titleWidth   = 40
		updatedWidth = 16
		countWidth   = 8
	)

	var sb strings.Builder
	sb.WriteString(util.PadRight("#", numWidth) + " " +
		util.PadRight("Title", titleWidth) + " " +
		util.PadRight("Updated", updatedWidth) + " " +
		util.PadRight("Messages", countWidth) + " ID\n")
	sb.WriteString(strings.Repeat("-", numWidth+titleWidth+updatedWidth+countWidth+4+8) + "\n")

	for i, m := range metas {
		sb.WriteString(util.PadRight(strconv.Itoa(i+1), numWidth) + " " +
			util.PadRight(util.TruncateWidth(m.Title, titleWidth), titleWidth) + " " +
			util.PadRight(m.UpdatedAt.Format("2006-01-02 15:04"), updatedWidth) + " " +
			util.PadRight(strconv.Itoa(m.MessageCount), countWidth) + " " +
			shortID(m.ID) + "\n")
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown renders conv as a Markdown document.
func ExportMarkdown(conv model.Conversation) string {
	var sb strings.Builder
	sb.WriteString("# " + conv.GetTitle() + "\n\n")
	sb.WriteString("Created: " + conv.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range conv.Messages {
		sb.WriteString("**" + msg.Role.DisplayName() + "**:\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// ResolveID finds the stored conversation that ref names: a list number
// (1-based, most recent first), a full id, or a unique id prefix.
func ResolveID(metas []ConversationMeta, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrInvalidID
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(metas) {
			return "", ErrConversationNotFound
		}
		return metas[n-1].ID, nil
	}

	match := ""
	for _, m := range metas {
		if m.ID == ref {
			return m.ID, nil
		}
		if strings.HasPrefix(m.ID, ref) {
			if match != "" {
				return "", &ConversationError{Message: "ambiguous conversation id " + strconv.Quote(ref)}
			}
			match = m.ID
		}
	}
	if match == "" {
		return "", ErrConversationNotFound
	}
	return match, nil
}

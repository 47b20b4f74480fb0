package store

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/agent-world/agent-world/pkg/models"
)

// truncateFrom removes the message with id messageID and every later event
// in the same chat from events (assumed seq-ordered). Events in other chats
// are untouched. Returns the kept slice and the number removed.
func truncateFrom(events []*models.Event, chatID, messageID string) ([]*models.Event, int, error) {
	cutSeq := int64(-1)
	for _, evt := range events {
		if evt.ChatID == chatID && evt.MessageID == messageID && evt.IsMessage() {
			cutSeq = evt.Seq
			break
		}
	}
	if cutSeq < 0 {
		return nil, 0, fmt.Errorf("%w: message %s in chat %s", ErrNotFound, messageID, chatID)
	}

	kept := make([]*models.Event, 0, len(events))
	removed := 0
	for _, evt := range events {
		if evt.ChatID == chatID && evt.Seq >= cutSeq {
			removed++
			continue
		}
		kept = append(kept, evt)
	}
	return kept, removed, nil
}

// branchCopy clones the prefix of sourceChatID ending at messageID
// (inclusive) into newChatID. Clones receive fresh event ids and messageIds;
// reply references to messages inside the copied prefix are remapped, and
// references outside it are cleared. Seq assignment is left to the caller.
func branchCopy(events []*models.Event, sourceChatID, messageID, newChatID string) ([]*models.Event, error) {
	endSeq := int64(-1)
	for _, evt := range events {
		if evt.ChatID == sourceChatID && evt.MessageID == messageID && evt.IsMessage() {
			endSeq = evt.Seq
			break
		}
	}
	if endSeq < 0 {
		return nil, fmt.Errorf("%w: message %s in chat %s", ErrNotFound, messageID, sourceChatID)
	}

	var copies []*models.Event
	idMap := make(map[string]string)
	for _, evt := range events {
		if evt.ChatID != sourceChatID || evt.Seq > endSeq {
			continue
		}
		clone := evt.Clone()
		clone.ID = uuid.NewString()
		clone.ChatID = newChatID
		clone.Seq = 0
		if clone.MessageID != "" {
			fresh := uuid.NewString()
			idMap[clone.MessageID] = fresh
			clone.MessageID = fresh
		}
		copies = append(copies, clone)
	}

	for _, clone := range copies {
		if clone.ReplyToMessageID == "" {
			continue
		}
		if mapped, ok := idMap[clone.ReplyToMessageID]; ok {
			clone.ReplyToMessageID = mapped
		} else {
			clone.ReplyToMessageID = ""
		}
		if clone.Metadata != nil && clone.Metadata.ThreadRootID != "" {
			if mapped, ok := idMap[clone.Metadata.ThreadRootID]; ok {
				clone.Metadata.ThreadRootID = mapped
			} else {
				clone.Metadata.ThreadRootID = clone.MessageID
			}
		}
	}
	return copies, nil
}

package memory

import (
	"github.com/agent-world/agent-world/pkg/models"
)

// MaxThreadDepth caps the reply-chain walk.
const MaxThreadDepth = 100

// ComputeThread resolves the thread root and depth for a message replying
// to replyToMessageID. lookup resolves a messageId to its stored event, or
// nil. Circular references abort at the first revisit and fall back to the
// message itself as root.
func ComputeThread(replyToMessageID, selfMessageID string, lookup func(messageID string) *models.Event) (rootID string, depth int) {
	if replyToMessageID == "" {
		return selfMessageID, 0
	}

	visited := map[string]struct{}{selfMessageID: {}}
	current := replyToMessageID
	depth = 1
	for depth <= MaxThreadDepth {
		if _, seen := visited[current]; seen {
			return selfMessageID, 0
		}
		visited[current] = struct{}{}

		evt := lookup(current)
		if evt == nil {
			// Reply to an unknown message roots the thread there anyway.
			return current, depth
		}
		if evt.Metadata != nil && evt.Metadata.ThreadRootID != "" && evt.Metadata.ThreadRootID != evt.MessageID {
			// The parent already knows its root; extend its depth.
			return evt.Metadata.ThreadRootID, evt.Metadata.ThreadDepth + 1
		}
		if evt.ReplyToMessageID == "" {
			return evt.MessageID, depth
		}
		current = evt.ReplyToMessageID
		depth++
	}
	return selfMessageID, 0
}

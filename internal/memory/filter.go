package memory

import (
	"strings"

	"github.com/agent-world/agent-world/pkg/models"
)

// StdoutCaptureSuffix marks persisted assistant stream-capture artifacts.
// They exist for transport compatibility and are excluded from LLM context.
const StdoutCaptureSuffix = "-stdout"

// FilterClientSideMessages prepares stored messages for LLM context by
// removing everything a provider API would reject:
//
//   - client.* entries are dropped from assistant tool_calls; an assistant
//     message left with no tool calls and no content is dropped entirely
//   - tool messages are dropped when their tool_call_id is missing,
//     references a removed client-side call, or references no known call
//   - persisted stdout-capture artifacts are dropped
//
// The result, flattened in seq order, contains no orphaned tool rows.
func FilterClientSideMessages(events []*models.Event) []*models.Event {
	removedToolCallIDs := make(map[string]struct{})
	validToolCallIDs := make(map[string]struct{})

	// Pass 1: strip client-side tool calls from assistant messages.
	intermediate := make([]*models.Event, 0, len(events))
	for _, evt := range events {
		if strings.HasSuffix(evt.MessageID, StdoutCaptureSuffix) {
			continue
		}
		if evt.Role != models.RoleAssistant || len(evt.ToolCalls) == 0 {
			intermediate = append(intermediate, evt)
			continue
		}

		kept := make([]models.ToolCall, 0, len(evt.ToolCalls))
		for _, tc := range evt.ToolCalls {
			if tc.IsClientSide() {
				removedToolCallIDs[tc.ID] = struct{}{}
				continue
			}
			validToolCallIDs[tc.ID] = struct{}{}
			kept = append(kept, tc)
		}
		if len(kept) == len(evt.ToolCalls) {
			intermediate = append(intermediate, evt)
			continue
		}
		if len(kept) == 0 && strings.TrimSpace(evt.Content) == "" {
			continue
		}
		clone := evt.Clone()
		clone.ToolCalls = kept
		intermediate = append(intermediate, clone)
	}

	// Pass 2: drop tool messages with no surviving counterpart.
	out := make([]*models.Event, 0, len(intermediate))
	for _, evt := range intermediate {
		if evt.Role != models.RoleTool {
			out = append(out, evt)
			continue
		}
		if evt.ToolCallID == "" {
			continue
		}
		if _, removed := removedToolCallIDs[evt.ToolCallID]; removed {
			continue
		}
		if _, valid := validToolCallIDs[evt.ToolCallID]; !valid {
			continue
		}
		out = append(out, evt)
	}
	return out
}

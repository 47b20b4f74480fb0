package memory

import (
	"testing"

	"github.com/agent-world/agent-world/pkg/models"
)

func assistantEvt(msgID, content string, calls ...models.ToolCall) *models.Event {
	return &models.Event{
		MessageID: msgID,
		Type:      models.EventMessage,
		Role:      models.RoleAssistant,
		Sender:    "a1",
		Content:   content,
		ToolCalls: calls,
		Metadata:  &models.EventMetadata{OwnerAgentIDs: []string{"a1"}},
	}
}

func toolEvt(msgID, toolCallID, content string) *models.Event {
	return &models.Event{
		MessageID:  msgID,
		Type:       models.EventTool,
		Role:       models.RoleTool,
		Sender:     "a1",
		Content:    content,
		ToolCallID: toolCallID,
		Metadata:   &models.EventMetadata{OwnerAgentIDs: []string{"a1"}},
	}
}

func TestFilterStripsClientSideCalls(t *testing.T) {
	// An approval round-trip: the assistant message carries only a
	// client.requestApproval call and its tool result follows. Both rows
	// must vanish from LLM context.
	events := []*models.Event{
		assistantEvt("m1", "", models.ToolCall{
			ID:   "c1",
			Type: "function",
			Function: models.ToolFunction{
				Name:      "client.requestApproval",
				Arguments: "{}",
			},
		}),
		toolEvt("m2", "c1", `{"__type":"tool_result","decision":"approve_once"}`),
	}
	got := FilterClientSideMessages(events)
	if len(got) != 0 {
		t.Fatalf("filtered = %d events, want 0", len(got))
	}
}

func TestFilterKeepsServerSideCalls(t *testing.T) {
	events := []*models.Event{
		assistantEvt("m1", "", models.ToolCall{
			ID:       "c1",
			Type:     "function",
			Function: models.ToolFunction{Name: "shell_cmd", Arguments: `{"cmd":"ls"}`},
		}),
		toolEvt("m2", "c1", `{"status":"completed","exit_code":0}`),
	}
	got := FilterClientSideMessages(events)
	if len(got) != 2 {
		t.Fatalf("filtered = %d events, want 2", len(got))
	}
	if len(got[0].ToolCalls) != 1 || got[0].ToolCalls[0].ID != "c1" {
		t.Errorf("tool call not preserved: %+v", got[0].ToolCalls)
	}
}

func TestFilterMixedCallsKeepsAssistantShell(t *testing.T) {
	events := []*models.Event{
		assistantEvt("m1", "",
			models.ToolCall{ID: "c1", Type: "function", Function: models.ToolFunction{Name: "client.requestApproval", Arguments: "{}"}},
			models.ToolCall{ID: "c2", Type: "function", Function: models.ToolFunction{Name: "shell_cmd", Arguments: "{}"}},
		),
		toolEvt("m2", "c1", `{"__type":"tool_result","decision":"deny"}`),
		toolEvt("m3", "c2", `{"status":"completed"}`),
	}
	got := FilterClientSideMessages(events)
	if len(got) != 2 {
		t.Fatalf("filtered = %d events, want 2", len(got))
	}
	if len(got[0].ToolCalls) != 1 || got[0].ToolCalls[0].ID != "c2" {
		t.Errorf("surviving tool calls = %+v, want only c2", got[0].ToolCalls)
	}
	if got[1].ToolCallID != "c2" {
		t.Errorf("surviving tool result references %q, want c2", got[1].ToolCallID)
	}
	// The source event must not be mutated.
	if len(events[0].ToolCalls) != 2 {
		t.Errorf("input event mutated: %d tool calls", len(events[0].ToolCalls))
	}
}

func TestFilterDropsOrphanToolMessages(t *testing.T) {
	events := []*models.Event{
		toolEvt("m1", "ghost", "stale result"),
		toolEvt("m2", "", "no id at all"),
		assistantEvt("m3", "plain text"),
	}
	got := FilterClientSideMessages(events)
	if len(got) != 1 || got[0].MessageID != "m3" {
		t.Fatalf("filtered = %+v, want only m3", got)
	}
}

func TestFilterDropsStdoutArtifacts(t *testing.T) {
	events := []*models.Event{
		assistantEvt("m1-stdout", "captured shell output"),
		assistantEvt("m2", "real reply"),
	}
	got := FilterClientSideMessages(events)
	if len(got) != 1 || got[0].MessageID != "m2" {
		t.Fatalf("filtered = %+v, want only m2", got)
	}
}

func TestFilterKeepsContentOnlyAssistant(t *testing.T) {
	// A denied approval that also carried visible text keeps the text.
	events := []*models.Event{
		assistantEvt("m1", "I need approval first.", models.ToolCall{
			ID:       "c1",
			Type:     "function",
			Function: models.ToolFunction{Name: "client.requestApproval", Arguments: "{}"},
		}),
	}
	got := FilterClientSideMessages(events)
	if len(got) != 1 {
		t.Fatalf("filtered = %d events, want 1", len(got))
	}
	if len(got[0].ToolCalls) != 0 || got[0].Content != "I need approval first." {
		t.Errorf("got %+v, want content-only assistant message", got[0])
	}
}

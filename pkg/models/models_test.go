package models

import (
	"testing"
)

func TestSlugID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Alice", "alice"},
		{"spaces", "Data Analyst", "data-analyst"},
		{"punctuation", "Q&A Bot!", "q-a-bot"},
		{"already slug", "a1", "a1"},
		{"trailing junk", "  helper--  ", "helper"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SlugID(tt.in); got != tt.want {
				t.Errorf("SlugID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToolCallClientSide(t *testing.T) {
	tc := NewToolCall("c1", "client.requestApproval", map[string]any{"message": "ok?"})
	if !tc.IsClientSide() {
		t.Error("client.requestApproval should be client-side")
	}
	if NewToolCall("c2", "shell_cmd", nil).IsClientSide() {
		t.Error("shell_cmd should not be client-side")
	}
}

func TestToolCallArgsMap(t *testing.T) {
	tc := NewToolCall("c1", "shell_cmd", map[string]any{"command": "ls"})
	args := tc.ArgsMap()
	if args["command"] != "ls" {
		t.Errorf("args = %v, want command=ls", args)
	}

	tc.Function.Arguments = "not json"
	if got := tc.ArgsMap(); len(got) != 0 {
		t.Errorf("malformed arguments should yield empty map, got %v", got)
	}
}

func TestParseToolResultPayload(t *testing.T) {
	content := `{"__type":"tool_result","decision":"approve","scope":"once","toolName":"shell_cmd"}`
	payload, ok := ParseToolResultPayload(content)
	if !ok {
		t.Fatal("expected payload to parse")
	}
	if payload.Decision != "approve" || payload.Scope != "once" || payload.ToolName != "shell_cmd" {
		t.Errorf("unexpected payload: %+v", payload)
	}

	if _, ok := ParseToolResultPayload("plain text output"); ok {
		t.Error("plain text should not parse as tool result payload")
	}
	if _, ok := ParseToolResultPayload(`{"__type":"other"}`); ok {
		t.Error("wrong __type should not parse as tool result payload")
	}
}

func TestEventOwnedBy(t *testing.T) {
	evt := &Event{
		Type:     EventMessage,
		Metadata: &EventMetadata{OwnerAgentIDs: []string{"a1", "a2"}},
	}
	if !evt.OwnedBy("a1") {
		t.Error("a1 should own event")
	}
	if evt.OwnedBy("a3") {
		t.Error("a3 should not own event")
	}
	if (&Event{Type: EventMessage}).OwnedBy("a1") {
		t.Error("event without metadata has no owners")
	}
}

func TestWorldDefaults(t *testing.T) {
	w := &World{}
	if got := w.WorkingDirectory(); got != "./" {
		t.Errorf("WorkingDirectory = %q, want ./", got)
	}
	if got := w.EffectiveTurnLimit(); got != DefaultTurnLimit {
		t.Errorf("EffectiveTurnLimit = %d, want %d", got, DefaultTurnLimit)
	}

	a := &Agent{}
	if got := a.EffectiveCallLimit(w); got != DefaultTurnLimit {
		t.Errorf("EffectiveCallLimit = %d, want %d", got, DefaultTurnLimit)
	}
	a.LLMCallLimit = 2
	if got := a.EffectiveCallLimit(w); got != 2 {
		t.Errorf("EffectiveCallLimit = %d, want 2", got)
	}
}

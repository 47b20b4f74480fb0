package memory

import (
	"testing"

	"github.com/agent-world/agent-world/pkg/models"
)

func memEvt(msgID, chatID string, owners ...string) *models.Event {
	return &models.Event{
		MessageID: msgID,
		ChatID:    chatID,
		Type:      models.EventMessage,
		Role:      models.RoleUser,
		Sender:    HumanSender,
		Content:   "content of " + msgID,
		Metadata:  &models.EventMetadata{OwnerAgentIDs: owners},
	}
}

func TestManagerAppendPerOwner(t *testing.T) {
	m := NewManager()
	m.Append(memEvt("m1", "c1", "a1", "a2"))
	m.Append(memEvt("m2", "c1", "a1"))

	if got := len(m.ForAgent("a1", "c1")); got != 2 {
		t.Errorf("a1 memory = %d events, want 2", got)
	}
	if got := len(m.ForAgent("a2", "c1")); got != 1 {
		t.Errorf("a2 memory = %d events, want 1", got)
	}
	if got := len(m.ForAgent("a3", "c1")); got != 0 {
		t.Errorf("a3 memory = %d events, want 0", got)
	}
}

func TestManagerDedupesByMessageID(t *testing.T) {
	m := NewManager()
	evt := memEvt("m1", "c1", "a1")
	m.Append(evt)
	m.Append(evt)
	if got := len(m.ForAgent("a1", "c1")); got != 1 {
		t.Errorf("memory = %d events after duplicate append, want 1", got)
	}
}

func TestManagerScopesByChat(t *testing.T) {
	m := NewManager()
	m.Append(memEvt("m1", "c1", "a1"))
	m.Append(memEvt("m2", "c2", "a1"))
	if got := m.ForAgent("a1", "c1"); len(got) != 1 || got[0].MessageID != "m1" {
		t.Errorf("c1 memory = %+v, want only m1", got)
	}
}

func TestManagerIgnoresNonMessages(t *testing.T) {
	m := NewManager()
	m.Append(&models.Event{
		MessageID: "s1",
		Type:      models.EventSSE,
		Metadata:  &models.EventMetadata{OwnerAgentIDs: []string{"a1"}},
	})
	if got := len(m.ForAgent("a1", "")); got != 0 {
		t.Errorf("sse event stored in memory: %d events", got)
	}
}

func TestManagerLookup(t *testing.T) {
	m := NewManager()
	m.Append(memEvt("m1", "c1", "a1"))
	if evt := m.Lookup("m1"); evt == nil || evt.MessageID != "m1" {
		t.Errorf("Lookup(m1) = %+v", evt)
	}
	if evt := m.Lookup("missing"); evt != nil {
		t.Errorf("Lookup(missing) = %+v, want nil", evt)
	}
}

func TestManagerDeleteAgent(t *testing.T) {
	m := NewManager()
	m.Append(memEvt("m1", "c1", "a1", "a2"))
	m.DeleteAgent("a1")
	if got := len(m.ForAgent("a1", "c1")); got != 0 {
		t.Errorf("deleted agent memory = %d events, want 0", got)
	}
	if got := len(m.ForAgent("a2", "c1")); got != 1 {
		t.Errorf("surviving agent memory = %d events, want 1", got)
	}
}

func TestManagerReset(t *testing.T) {
	m := NewManager()
	m.Append(memEvt("m1", "c1", "a1"))
	m.Append(memEvt("m2", "c1", "a1"))

	// Simulate truncation back to just m1.
	m.Reset([]*models.Event{memEvt("m1", "c1", "a1")})
	got := m.ForAgent("a1", "c1")
	if len(got) != 1 || got[0].MessageID != "m1" {
		t.Errorf("post-reset memory = %+v, want only m1", got)
	}
	if m.Lookup("m2") != nil {
		t.Errorf("truncated message still resolvable")
	}
}

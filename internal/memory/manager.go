package memory

import (
	"sync"

	"github.com/agent-world/agent-world/pkg/models"
)

// Manager holds the runtime memory of every agent in one world. Agent
// memory is owned by the world's orchestration context; nothing outside
// this package writes the underlying slices.
type Manager struct {
	mu      sync.RWMutex
	byAgent map[string][]*models.Event
	seen    map[string]map[string]struct{}
	index   map[string]*models.Event
}

// NewManager creates an empty memory manager.
func NewManager() *Manager {
	return &Manager{
		byAgent: make(map[string][]*models.Event),
		seen:    make(map[string]map[string]struct{}),
		index:   make(map[string]*models.Event),
	}
}

// Append stores the event into the memory of every owner listed in its
// metadata, deduplicating by (ownerAgentId, messageId).
func (m *Manager) Append(evt *models.Event) {
	if evt == nil || !evt.IsMessage() || evt.Metadata == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if evt.MessageID != "" {
		m.index[evt.MessageID] = evt
	}
	for _, owner := range evt.Metadata.OwnerAgentIDs {
		if evt.MessageID != "" {
			set, ok := m.seen[owner]
			if !ok {
				set = make(map[string]struct{})
				m.seen[owner] = set
			}
			if _, dup := set[evt.MessageID]; dup {
				continue
			}
			set[evt.MessageID] = struct{}{}
		}
		m.byAgent[owner] = append(m.byAgent[owner], evt)
	}
}

// ForAgent returns the agent's memory for one chat in seq order. An empty
// chatID selects events outside any chat.
func (m *Manager) ForAgent(agentID, chatID string) []*models.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Event
	for _, evt := range m.byAgent[agentID] {
		if evt.ChatID == chatID {
			out = append(out, evt)
		}
	}
	return out
}

// Lookup resolves a messageId to its event, or nil. Used for threading.
func (m *Manager) Lookup(messageID string) *models.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index[messageID]
}

// DeleteAgent drops an agent's memory. Called when the agent is deleted.
func (m *Manager) DeleteAgent(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byAgent, agentID)
	delete(m.seen, agentID)
}

// Reset rebuilds all agent memory from a stored event list, in seq order.
// Used after storage-level truncation to resync the runtime.
func (m *Manager) Reset(events []*models.Event) {
	m.mu.Lock()
	m.byAgent = make(map[string][]*models.Event)
	m.seen = make(map[string]map[string]struct{})
	m.index = make(map[string]*models.Event)
	m.mu.Unlock()
	for _, evt := range events {
		m.Append(evt)
	}
}

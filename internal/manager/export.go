package manager

import (
	"context"
	"fmt"

	"github.com/agent-world/agent-world/internal/store"
	"github.com/agent-world/agent-world/pkg/models"
)

// WorldExport is the portable snapshot of one world: configuration,
// agents, chats, and the full event log in seq order.
type WorldExport struct {
	World  *models.World   `json:"world"`
	Agents []*models.Agent `json:"agents"`
	Chats  []*models.Chat  `json:"chats"`
	Events []*models.Event `json:"events"`
}

// ExportWorld snapshots a world for backup or transfer.
func (m *Manager) ExportWorld(ctx context.Context, worldID string) (*WorldExport, error) {
	w, err := m.store.GetWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	agents, err := m.store.ListAgents(ctx, worldID)
	if err != nil {
		return nil, err
	}
	chats, err := m.store.ListChats(ctx, worldID)
	if err != nil {
		return nil, err
	}
	events, err := m.store.GetEvents(ctx, worldID, store.EventQuery{})
	if err != nil {
		return nil, err
	}
	return &WorldExport{World: w, Agents: agents, Chats: chats, Events: events}, nil
}

// ImportWorld recreates an exported world. newID optionally renames the
// world; empty keeps the exported id. Fails without side effects when
// the target id already exists; a storage failure mid-import rolls the
// world back.
func (m *Manager) ImportWorld(ctx context.Context, export *WorldExport, newID string) (*models.World, error) {
	if export == nil || export.World == nil {
		return nil, fmt.Errorf("%w: empty export", store.ErrValidation)
	}

	w := *export.World
	if newID != "" {
		w.ID = newID
	}
	if err := m.store.CreateWorld(ctx, &w); err != nil {
		return nil, err
	}

	rollback := func() {
		if err := m.store.DeleteWorld(ctx, w.ID); err != nil {
			m.logger.Warn("import rollback failed", "worldId", w.ID, "error", err)
		}
	}

	for _, agent := range export.Agents {
		a := *agent
		if err := m.store.SaveAgent(ctx, w.ID, &a); err != nil {
			rollback()
			return nil, fmt.Errorf("import agent %s: %w", agent.ID, err)
		}
	}
	for _, chat := range export.Chats {
		c := *chat
		c.WorldID = w.ID
		if err := m.store.CreateChat(ctx, &c); err != nil {
			rollback()
			return nil, fmt.Errorf("import chat %s: %w", chat.ID, err)
		}
	}

	events := make([]*models.Event, 0, len(export.Events))
	for _, evt := range export.Events {
		e := evt.Clone()
		e.WorldID = w.ID
		events = append(events, e)
	}
	if len(events) > 0 {
		if err := m.store.SaveEvents(ctx, events); err != nil {
			rollback()
			return nil, fmt.Errorf("import events: %w", err)
		}
	}
	return &w, nil
}

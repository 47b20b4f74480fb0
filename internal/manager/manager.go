// Package manager exposes the CRUD surface over worlds, agents, and
// chats, plus message editing, chat branching, and world export/import.
// It owns the active-world registry: loading a world builds its runtime
// and attaches the orchestrator so published messages are dispatched.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agent-world/agent-world/internal/skills"
	"github.com/agent-world/agent-world/internal/store"
	"github.com/agent-world/agent-world/internal/world"
	"github.com/agent-world/agent-world/pkg/models"
)

// Attacher hooks a freshly loaded world runtime up to the message
// dispatcher. Implemented by the orchestrator.
type Attacher interface {
	Attach(ctx context.Context, rt *world.Runtime) (unsubscribe func())
}

// Manager coordinates storage, runtimes, and the orchestrator.
type Manager struct {
	store    store.Store
	registry *world.Registry
	skills   *skills.Registry
	attacher Attacher
	logger   *slog.Logger

	hitlTimeout time.Duration
}

// Config wires a Manager.
type Config struct {
	Store       store.Store
	Skills      *skills.Registry
	Attacher    Attacher
	Logger      *slog.Logger
	HITLTimeout time.Duration
}

// New creates a manager.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:       cfg.Store,
		registry:    world.NewRegistry(),
		skills:      cfg.Skills,
		attacher:    cfg.Attacher,
		logger:      logger.With("component", "manager"),
		hitlTimeout: cfg.HITLTimeout,
	}
}

// Registry exposes the active-world registry.
func (m *Manager) Registry() *world.Registry { return m.registry }

// Close shuts down all loaded runtimes.
func (m *Manager) Close() {
	m.registry.CloseAll()
}

// CreateWorld persists a new world. The id is the slug of the name.
func (m *Manager) CreateWorld(ctx context.Context, w *models.World) (*models.World, error) {
	if strings.TrimSpace(w.Name) == "" {
		return nil, fmt.Errorf("%w: world name is required", store.ErrValidation)
	}
	if w.ID == "" {
		w.ID = models.SlugID(w.Name)
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	if err := m.store.CreateWorld(ctx, w); err != nil {
		return nil, err
	}
	m.logger.Info("world created", "worldId", w.ID)
	return w, nil
}

// GetWorld reads a world record.
func (m *Manager) GetWorld(ctx context.Context, worldID string) (*models.World, error) {
	return m.store.GetWorld(ctx, worldID)
}

// ListWorlds returns all worlds.
func (m *Manager) ListWorlds(ctx context.Context) ([]*models.World, error) {
	return m.store.ListWorlds(ctx)
}

// LoadWorld builds (or returns) the live runtime for a world and
// registers it in the active-world registry.
func (m *Manager) LoadWorld(ctx context.Context, worldID string) (*world.Runtime, error) {
	if rt, ok := m.registry.Get(worldID); ok {
		return rt, nil
	}
	w, err := m.store.GetWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	rt, err := world.NewRuntime(ctx, w, m.store, m.logger, world.Options{
		HITLTimeout: m.hitlTimeout,
		Skills:      m.skills,
	})
	if err != nil {
		return nil, err
	}
	if m.attacher != nil {
		m.attacher.Attach(ctx, rt)
	}
	m.registry.Put(rt)
	return rt, nil
}

// UpdateWorld persists changes and refreshes the loaded runtime.
func (m *Manager) UpdateWorld(ctx context.Context, w *models.World) error {
	w.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateWorld(ctx, w); err != nil {
		return err
	}
	if rt, ok := m.registry.Get(w.ID); ok {
		rt.UpdateWorld(w)
	}
	return nil
}

// DeleteWorld closes the runtime (cancelling pending HITLs and
// subscribers) and removes the world with all its data.
func (m *Manager) DeleteWorld(ctx context.Context, worldID string) error {
	m.registry.Remove(worldID)
	return m.store.DeleteWorld(ctx, worldID)
}

// CreateAgent adds an agent to a world; the id is the slug of the name
// and must be unique within the world.
func (m *Manager) CreateAgent(ctx context.Context, worldID string, agent *models.Agent) (*models.Agent, error) {
	if strings.TrimSpace(agent.Name) == "" {
		return nil, fmt.Errorf("%w: agent name is required", store.ErrValidation)
	}
	if agent.ID == "" {
		agent.ID = models.SlugID(agent.Name)
	}
	if _, err := m.store.GetAgent(ctx, worldID, agent.ID); err == nil {
		return nil, fmt.Errorf("%w: agent %q", store.ErrConflict, agent.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	agent.CreatedAt = time.Now().UTC()
	if err := m.store.SaveAgent(ctx, worldID, agent); err != nil {
		return nil, err
	}
	if rt, ok := m.registry.Get(worldID); ok {
		if err := rt.AddAgent(agent); err != nil {
			return nil, err
		}
	}
	return agent, nil
}

// AgentUpdate is a partial agent change; nil fields are preserved.
type AgentUpdate struct {
	Name         *string
	Provider     *string
	Model        *string
	SystemPrompt *string
	Temperature  *float64
	MaxTokens    *int
	AutoReply    *bool
	LLMCallLimit *int
}

// UpdateAgent applies a partial update to an agent.
func (m *Manager) UpdateAgent(ctx context.Context, worldID, agentID string, patch AgentUpdate) (*models.Agent, error) {
	agent, err := m.store.GetAgent(ctx, worldID, agentID)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		agent.Name = *patch.Name
	}
	if patch.Provider != nil {
		agent.Provider = *patch.Provider
	}
	if patch.Model != nil {
		agent.Model = *patch.Model
	}
	if patch.SystemPrompt != nil {
		agent.SystemPrompt = *patch.SystemPrompt
	}
	if patch.Temperature != nil {
		agent.Temperature = *patch.Temperature
	}
	if patch.MaxTokens != nil {
		agent.MaxTokens = *patch.MaxTokens
	}
	if patch.AutoReply != nil {
		agent.AutoReply = *patch.AutoReply
	}
	if patch.LLMCallLimit != nil {
		agent.LLMCallLimit = *patch.LLMCallLimit
	}
	if err := m.store.SaveAgent(ctx, worldID, agent); err != nil {
		return nil, err
	}
	if rt, ok := m.registry.Get(worldID); ok {
		rt.UpdateAgent(agent)
	}
	return agent, nil
}

// DeleteAgent removes the agent from storage and the runtime, dropping
// its memory.
func (m *Manager) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	if err := m.store.DeleteAgent(ctx, worldID, agentID); err != nil {
		return err
	}
	if rt, ok := m.registry.Get(worldID); ok {
		rt.RemoveAgent(agentID)
	}
	return nil
}

// ListAgents returns a world's agents.
func (m *Manager) ListAgents(ctx context.Context, worldID string) ([]*models.Agent, error) {
	return m.store.ListAgents(ctx, worldID)
}

// CreateChat adds a chat and optionally makes it current.
func (m *Manager) CreateChat(ctx context.Context, worldID, name string, makeCurrent bool) (*models.Chat, error) {
	now := time.Now().UTC()
	chat := &models.Chat{
		ID:        uuid.NewString(),
		WorldID:   worldID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateChat(ctx, chat); err != nil {
		return nil, err
	}
	if makeCurrent {
		if err := m.SetCurrentChat(ctx, worldID, chat.ID); err != nil {
			return nil, err
		}
	}
	return chat, nil
}

// SetCurrentChat points the world at a chat; agents only answer
// messages in the current chat.
func (m *Manager) SetCurrentChat(ctx context.Context, worldID, chatID string) error {
	if chatID != "" {
		if _, err := m.store.GetChat(ctx, worldID, chatID); err != nil {
			return err
		}
	}
	w, err := m.store.GetWorld(ctx, worldID)
	if err != nil {
		return err
	}
	w.CurrentChatID = chatID
	return m.UpdateWorld(ctx, w)
}

// DeleteChat removes a chat and its events; if it was current the world
// is left without a current chat.
func (m *Manager) DeleteChat(ctx context.Context, worldID, chatID string) error {
	if err := m.store.DeleteChat(ctx, worldID, chatID); err != nil {
		return err
	}
	w, err := m.store.GetWorld(ctx, worldID)
	if err != nil {
		return err
	}
	if w.CurrentChatID == chatID {
		w.CurrentChatID = ""
		if err := m.UpdateWorld(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// GetEvents reads stored events; the query filters by chat, sequence,
// type, and metadata.
func (m *Manager) GetEvents(ctx context.Context, worldID string, q store.EventQuery) ([]*models.Event, error) {
	return m.store.GetEvents(ctx, worldID, q)
}

// ListChats returns a world's chats.
func (m *Manager) ListChats(ctx context.Context, worldID string) ([]*models.Chat, error) {
	return m.store.ListChats(ctx, worldID)
}

// BranchChat creates a new chat containing the source chat's events up
// to and including messageID.
func (m *Manager) BranchChat(ctx context.Context, worldID, sourceChatID, messageID, name string) (*models.Chat, error) {
	now := time.Now().UTC()
	chat := &models.Chat{
		ID:        uuid.NewString(),
		WorldID:   worldID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.BranchChatFromMessage(ctx, worldID, sourceChatID, messageID, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// EditResult reports the outcome of editUserMessage.
type EditResult struct {
	Success      bool     `json:"success"`
	FailedAgents []string `json:"failedAgents"`
	MessageID    string   `json:"messageId,omitempty"`
}

// EditUserMessage truncates the chat from messageID onward, resyncs the
// runtime memory from storage, and resubmits the edited text so the
// affected agents re-run their turns.
func (m *Manager) EditUserMessage(ctx context.Context, worldID, chatID, messageID, newText string) (*EditResult, error) {
	result, err := m.store.RemoveMessagesFrom(ctx, worldID, chatID, messageID)
	if err != nil {
		return nil, err
	}

	// Prefer the runtime clients are subscribed to so replies reach
	// them; fall back to a locally loaded one.
	rt, ok := m.registry.GetActiveSubscribed(worldID)
	if !ok {
		rt, err = m.LoadWorld(ctx, worldID)
		if err != nil {
			return nil, err
		}
	}

	events, err := m.store.GetEvents(ctx, worldID, store.EventQuery{})
	if err != nil {
		return nil, err
	}
	rt.Memory().Reset(events)
	rt.ResetCallCounts(events)

	evt, err := rt.PublishMessage(ctx, newText, "human", world.PublishOptions{ChatID: chatID})
	if err != nil {
		return nil, err
	}
	return &EditResult{
		Success:      len(result.FailedAgents) == 0,
		FailedAgents: result.FailedAgents,
		MessageID:    evt.MessageID,
	}, nil
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-world/agent-world/pkg/models"
)

// worldState bundles everything a world owns in the in-memory backend.
type worldState struct {
	world       *models.World
	agents      map[string]*models.Agent
	chats       map[string]*models.Chat
	events      []*models.Event
	byMessageID map[string]*models.Event
	nextSeq     int64
}

// MemoryStore is a thread-safe in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu     sync.RWMutex
	worlds map[string]*worldState
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{worlds: make(map[string]*worldState)}
}

func (s *MemoryStore) state(worldID string) (*worldState, error) {
	if s.closed {
		return nil, ErrClosed
	}
	ws, ok := s.worlds[worldID]
	if !ok {
		return nil, fmt.Errorf("%w: world %s", ErrNotFound, worldID)
	}
	return ws, nil
}

// CreateWorld stores a new world.
func (s *MemoryStore) CreateWorld(ctx context.Context, world *models.World) error {
	if world == nil || world.ID == "" {
		return fmt.Errorf("%w: world requires an id", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.worlds[world.ID]; ok {
		return fmt.Errorf("%w: world %s", ErrConflict, world.ID)
	}
	clone := *world
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	s.worlds[world.ID] = &worldState{
		world:       &clone,
		agents:      make(map[string]*models.Agent),
		chats:       make(map[string]*models.Chat),
		byMessageID: make(map[string]*models.Event),
		nextSeq:     1,
	}
	return nil
}

// GetWorld returns a copy of the stored world.
func (s *MemoryStore) GetWorld(ctx context.Context, worldID string) (*models.World, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, err := s.state(worldID)
	if err != nil {
		return nil, err
	}
	clone := *ws.world
	return &clone, nil
}

// UpdateWorld replaces the stored world record.
func (s *MemoryStore) UpdateWorld(ctx context.Context, world *models.World) error {
	if world == nil || world.ID == "" {
		return fmt.Errorf("%w: world requires an id", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, err := s.state(world.ID)
	if err != nil {
		return err
	}
	clone := *world
	clone.CreatedAt = ws.world.CreatedAt
	clone.UpdatedAt = time.Now()
	ws.world = &clone
	return nil
}

// DeleteWorld removes the world with its agents, chats, and events.
func (s *MemoryStore) DeleteWorld(ctx context.Context, worldID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.state(worldID); err != nil {
		return err
	}
	delete(s.worlds, worldID)
	return nil
}

// ListWorlds returns all worlds sorted by id.
func (s *MemoryStore) ListWorlds(ctx context.Context) ([]*models.World, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]*models.World, 0, len(s.worlds))
	for _, ws := range s.worlds {
		clone := *ws.world
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveAgent creates or replaces an agent in a world.
func (s *MemoryStore) SaveAgent(ctx context.Context, worldID string, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("%w: agent requires an id", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, err := s.state(worldID)
	if err != nil {
		return err
	}
	clone := *agent
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	ws.agents[agent.ID] = &clone
	return nil
}

// GetAgent returns a copy of the agent.
func (s *MemoryStore) GetAgent(ctx context.Context, worldID, agentID string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, err := s.state(worldID)
	if err != nil {
		return nil, err
	}
	agent, ok := ws.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", ErrNotFound, agentID)
	}
	clone := *agent
	return &clone, nil
}

// DeleteAgent removes an agent from a world.
func (s *MemoryStore) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, err := s.state(worldID)
	if err != nil {
		return err
	}
	if _, ok := ws.agents[agentID]; !ok {
		return fmt.Errorf("%w: agent %s", ErrNotFound, agentID)
	}
	delete(ws.agents, agentID)
	return nil
}

// ListAgents returns all agents in a world sorted by id.
func (s *MemoryStore) ListAgents(ctx context.Context, worldID string) ([]*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, err := s.state(worldID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Agent, 0, len(ws.agents))
	for _, a := range ws.agents {
		clone := *a
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateChat stores a new chat in its world.
func (s *MemoryStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil || chat.ID == "" || chat.WorldID == "" {
		return fmt.Errorf("%w: chat requires id and worldId", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, err := s.state(chat.WorldID)
	if err != nil {
		return err
	}
	if _, ok := ws.chats[chat.ID]; ok {
		return fmt.Errorf("%w: chat %s", ErrConflict, chat.ID)
	}
	clone := *chat
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	ws.chats[chat.ID] = &clone
	return nil
}

// GetChat returns a copy of the chat.
func (s *MemoryStore) GetChat(ctx context.Context, worldID, chatID string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, err := s.state(worldID)
	if err != nil {
		return nil, err
	}
	chat, ok := ws.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("%w: chat %s", ErrNotFound, chatID)
	}
	clone := *chat
	return &clone, nil
}

// UpdateChat replaces the stored chat record.
func (s *MemoryStore) UpdateChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil || chat.ID == "" || chat.WorldID == "" {
		return fmt.Errorf("%w: chat requires id and worldId", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, err := s.state(chat.WorldID)
	if err != nil {
		return err
	}
	existing, ok := ws.chats[chat.ID]
	if !ok {
		return fmt.Errorf("%w: chat %s", ErrNotFound, chat.ID)
	}
	clone := *chat
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	ws.chats[chat.ID] = &clone
	return nil
}

// DeleteChat removes a chat and every event scoped to it.
func (s *MemoryStore) DeleteChat(ctx context.Context, worldID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, err := s.state(worldID)
	if err != nil {
		return err
	}
	if _, ok := ws.chats[chatID]; !ok {
		return fmt.Errorf("%w: chat %s", ErrNotFound, chatID)
	}
	delete(ws.chats, chatID)
	kept := ws.events[:0]
	for _, evt := range ws.events {
		if evt.ChatID == chatID {
			if evt.MessageID != "" {
				delete(ws.byMessageID, evt.MessageID)
			}
			continue
		}
		kept = append(kept, evt)
	}
	ws.events = kept
	return nil
}

// ListChats returns all chats in a world sorted by creation time.
func (s *MemoryStore) ListChats(ctx context.Context, worldID string) ([]*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, err := s.state(worldID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Chat, 0, len(ws.chats))
	for _, c := range ws.chats {
		clone := *c
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// appendEventLocked stamps id/seq/createdAt and appends. Caller holds mu.
// Returns false when the messageId was already stored (idempotent replay).
func (ws *worldState) appendEventLocked(evt *models.Event) bool {
	if evt.MessageID != "" && evt.IsMessage() {
		if stored, ok := ws.byMessageID[evt.MessageID]; ok {
			*evt = *stored.Clone()
			return false
		}
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	if evt.MessageID == "" && evt.Type == models.EventMessage {
		evt.MessageID = uuid.NewString()
	}
	evt.Seq = ws.nextSeq
	ws.nextSeq++
	stored := evt.Clone()
	ws.events = append(ws.events, stored)
	if stored.MessageID != "" && stored.IsMessage() {
		ws.byMessageID[stored.MessageID] = stored
	}
	return true
}

// SaveEvent validates and appends one event.
func (s *MemoryStore) SaveEvent(ctx context.Context, evt *models.Event) error {
	if err := validateEvent(evt); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, err := s.state(evt.WorldID)
	if err != nil {
		return err
	}
	ws.appendEventLocked(evt)
	return nil
}

// SaveEvents validates and appends a batch.
func (s *MemoryStore) SaveEvents(ctx context.Context, events []*models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range events {
		if err := validateEvent(evt); err != nil {
			return err
		}
		if _, err := s.state(evt.WorldID); err != nil {
			return err
		}
	}
	for _, evt := range events {
		ws := s.worlds[evt.WorldID]
		ws.appendEventLocked(evt)
	}
	return nil
}

// GetEvents returns matching events in seq order.
func (s *MemoryStore) GetEvents(ctx context.Context, worldID string, query EventQuery) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, err := s.state(worldID)
	if err != nil {
		return nil, err
	}
	var out []*models.Event
	for _, evt := range ws.events {
		if !matchQuery(evt, query) {
			continue
		}
		out = append(out, evt.Clone())
		if query.Limit > 0 && len(out) >= query.Limit {
			break
		}
	}
	return out, nil
}

// RemoveMessagesFrom truncates a chat from messageID forward.
func (s *MemoryStore) RemoveMessagesFrom(ctx context.Context, worldID, chatID, messageID string) (*TruncateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, err := s.state(worldID)
	if err != nil {
		return nil, err
	}
	kept, removed, err := truncateFrom(ws.events, chatID, messageID)
	if err != nil {
		return nil, err
	}
	dropped := make(map[string]struct{})
	for _, evt := range ws.events {
		if evt.ChatID == chatID && evt.MessageID != "" {
			dropped[evt.MessageID] = struct{}{}
		}
	}
	ws.events = kept
	for id := range dropped {
		delete(ws.byMessageID, id)
	}
	for _, evt := range kept {
		if evt.MessageID != "" && evt.IsMessage() {
			ws.byMessageID[evt.MessageID] = evt
		}
	}
	return &TruncateResult{Removed: removed}, nil
}

// BranchChatFromMessage copies a chat prefix into a new chat.
func (s *MemoryStore) BranchChatFromMessage(ctx context.Context, worldID, sourceChatID, messageID string, newChat *models.Chat) error {
	if newChat == nil || newChat.ID == "" {
		return fmt.Errorf("%w: branch requires a new chat", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, err := s.state(worldID)
	if err != nil {
		return err
	}
	if _, ok := ws.chats[sourceChatID]; !ok {
		return fmt.Errorf("%w: chat %s", ErrNotFound, sourceChatID)
	}
	if _, ok := ws.chats[newChat.ID]; ok {
		return fmt.Errorf("%w: chat %s", ErrConflict, newChat.ID)
	}
	copies, err := branchCopy(ws.events, sourceChatID, messageID, newChat.ID)
	if err != nil {
		return err
	}
	clone := *newChat
	clone.WorldID = worldID
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	clone.MessageCount = 0
	for _, c := range copies {
		if c.Type == models.EventMessage {
			clone.MessageCount++
		}
	}
	ws.chats[newChat.ID] = &clone
	for _, c := range copies {
		c.Seq = ws.nextSeq
		ws.nextSeq++
		ws.events = append(ws.events, c)
		if c.MessageID != "" && c.IsMessage() {
			ws.byMessageID[c.MessageID] = c
		}
	}
	*newChat = clone
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agent-world/agent-world/pkg/models"
)

// FileStore persists each world as a directory of JSON documents:
//
//	<root>/worlds/<worldID>/world.json
//	<root>/worlds/<worldID>/agents.json
//	<root>/worlds/<worldID>/chats.json
//	<root>/worlds/<worldID>/events.json
//
// Writes go through a temp file plus rename, with the previous content kept
// as a .bak sidecar. A corrupt main file is recovered from the sidecar on
// load. All state is cached in memory; the disk is write-through.
type FileStore struct {
	root string
	mem  *MemoryStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type fileWorldDoc struct {
	World   *models.World `json:"world"`
	NextSeq int64         `json:"nextSeq"`
}

// NewFileStore opens (and creates if needed) a file store rooted at root.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: file store requires a root path", ErrValidation)
	}
	if err := os.MkdirAll(filepath.Join(root, "worlds"), 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	s := &FileStore{
		root:  root,
		mem:   NewMemoryStore(),
		locks: make(map[string]*sync.Mutex),
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) worldDir(worldID string) string {
	return filepath.Join(s.root, "worlds", worldID)
}

func (s *FileStore) worldLock(worldID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[worldID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[worldID] = lock
	}
	return lock
}

func (s *FileStore) loadAll() error {
	entries, err := os.ReadDir(filepath.Join(s.root, "worlds"))
	if err != nil {
		return fmt.Errorf("read worlds dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := s.loadWorld(entry.Name()); err != nil {
			return fmt.Errorf("load world %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (s *FileStore) loadWorld(worldID string) error {
	dir := s.worldDir(worldID)

	var doc fileWorldDoc
	if err := readJSONWithBackup(filepath.Join(dir, "world.json"), &doc); err != nil {
		return err
	}
	if doc.World == nil || doc.World.ID == "" {
		return fmt.Errorf("%w: world.json missing world record", ErrValidation)
	}

	var agents []*models.Agent
	if err := readJSONWithBackup(filepath.Join(dir, "agents.json"), &agents); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	var chats []*models.Chat
	if err := readJSONWithBackup(filepath.Join(dir, "chats.json"), &chats); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	var events []*models.Event
	if err := readJSONWithBackup(filepath.Join(dir, "events.json"), &events); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	ws := &worldState{
		world:       doc.World,
		agents:      make(map[string]*models.Agent),
		chats:       make(map[string]*models.Chat),
		events:      events,
		byMessageID: make(map[string]*models.Event),
		nextSeq:     doc.NextSeq,
	}
	for _, a := range agents {
		ws.agents[a.ID] = a
	}
	for _, c := range chats {
		ws.chats[c.ID] = c
	}
	for _, evt := range events {
		if evt.MessageID != "" && evt.IsMessage() {
			ws.byMessageID[evt.MessageID] = evt
		}
		if evt.Seq >= ws.nextSeq {
			ws.nextSeq = evt.Seq + 1
		}
	}
	if ws.nextSeq < 1 {
		ws.nextSeq = 1
	}

	s.mem.mu.Lock()
	s.mem.worlds[worldID] = ws
	s.mem.mu.Unlock()
	return nil
}

// persistWorld snapshots one world's state and writes it out under the
// world's file lock, serializing concurrent writers.
func (s *FileStore) persistWorld(worldID string) error {
	s.mem.mu.RLock()
	ws, ok := s.mem.worlds[worldID]
	if !ok {
		s.mem.mu.RUnlock()
		return fmt.Errorf("%w: world %s", ErrNotFound, worldID)
	}
	doc := fileWorldDoc{World: ws.world, NextSeq: ws.nextSeq}
	agents := make([]*models.Agent, 0, len(ws.agents))
	for _, a := range ws.agents {
		agents = append(agents, a)
	}
	chats := make([]*models.Chat, 0, len(ws.chats))
	for _, c := range ws.chats {
		chats = append(chats, c)
	}
	events := append([]*models.Event(nil), ws.events...)
	s.mem.mu.RUnlock()

	docs := []struct {
		name string
		v    any
	}{
		{"world.json", doc},
		{"agents.json", agents},
		{"chats.json", chats},
		{"events.json", events},
	}

	lock := s.worldLock(worldID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.worldDir(worldID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create world dir: %w", err)
	}
	for _, d := range docs {
		data, err := json.MarshalIndent(d.v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", d.name, err)
		}
		if err := writeFileAtomic(filepath.Join(dir, d.name), data); err != nil {
			return err
		}
	}
	return nil
}

// writeFileAtomic writes data via temp file + rename, keeping the previous
// content as path.bak.
func writeFileAtomic(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		prev, err := os.ReadFile(path)
		if err == nil {
			_ = os.WriteFile(path+".bak", prev, 0o644)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// readJSONWithBackup reads path into v, falling back to path.bak when the
// main file is missing or fails to parse.
func readJSONWithBackup(path string, v any) error {
	data, err := os.ReadFile(path)
	if err == nil {
		if jsonErr := json.Unmarshal(data, v); jsonErr == nil {
			return nil
		}
	}
	bak, bakErr := os.ReadFile(path + ".bak")
	if bakErr != nil {
		if err != nil {
			return err
		}
		return fmt.Errorf("parse %s: corrupt and no backup", path)
	}
	if jsonErr := json.Unmarshal(bak, v); jsonErr != nil {
		return fmt.Errorf("parse %s backup: %w", path, jsonErr)
	}
	return nil
}

// CreateWorld stores a new world and creates its directory.
func (s *FileStore) CreateWorld(ctx context.Context, world *models.World) error {
	if err := s.mem.CreateWorld(ctx, world); err != nil {
		return err
	}
	return s.persistWorld(world.ID)
}

// GetWorld returns the stored world.
func (s *FileStore) GetWorld(ctx context.Context, worldID string) (*models.World, error) {
	return s.mem.GetWorld(ctx, worldID)
}

// UpdateWorld replaces the stored world record.
func (s *FileStore) UpdateWorld(ctx context.Context, world *models.World) error {
	if err := s.mem.UpdateWorld(ctx, world); err != nil {
		return err
	}
	return s.persistWorld(world.ID)
}

// DeleteWorld removes the world and its directory.
func (s *FileStore) DeleteWorld(ctx context.Context, worldID string) error {
	if err := s.mem.DeleteWorld(ctx, worldID); err != nil {
		return err
	}
	lock := s.worldLock(worldID)
	lock.Lock()
	defer lock.Unlock()
	return os.RemoveAll(s.worldDir(worldID))
}

// ListWorlds returns all worlds.
func (s *FileStore) ListWorlds(ctx context.Context) ([]*models.World, error) {
	return s.mem.ListWorlds(ctx)
}

// SaveAgent creates or replaces an agent.
func (s *FileStore) SaveAgent(ctx context.Context, worldID string, agent *models.Agent) error {
	if err := s.mem.SaveAgent(ctx, worldID, agent); err != nil {
		return err
	}
	return s.persistWorld(worldID)
}

// GetAgent returns an agent.
func (s *FileStore) GetAgent(ctx context.Context, worldID, agentID string) (*models.Agent, error) {
	return s.mem.GetAgent(ctx, worldID, agentID)
}

// DeleteAgent removes an agent.
func (s *FileStore) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	if err := s.mem.DeleteAgent(ctx, worldID, agentID); err != nil {
		return err
	}
	return s.persistWorld(worldID)
}

// ListAgents returns a world's agents.
func (s *FileStore) ListAgents(ctx context.Context, worldID string) ([]*models.Agent, error) {
	return s.mem.ListAgents(ctx, worldID)
}

// CreateChat stores a new chat.
func (s *FileStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	if err := s.mem.CreateChat(ctx, chat); err != nil {
		return err
	}
	return s.persistWorld(chat.WorldID)
}

// GetChat returns a chat.
func (s *FileStore) GetChat(ctx context.Context, worldID, chatID string) (*models.Chat, error) {
	return s.mem.GetChat(ctx, worldID, chatID)
}

// UpdateChat replaces a chat record.
func (s *FileStore) UpdateChat(ctx context.Context, chat *models.Chat) error {
	if err := s.mem.UpdateChat(ctx, chat); err != nil {
		return err
	}
	return s.persistWorld(chat.WorldID)
}

// DeleteChat removes a chat and its events.
func (s *FileStore) DeleteChat(ctx context.Context, worldID, chatID string) error {
	if err := s.mem.DeleteChat(ctx, worldID, chatID); err != nil {
		return err
	}
	return s.persistWorld(worldID)
}

// ListChats returns a world's chats.
func (s *FileStore) ListChats(ctx context.Context, worldID string) ([]*models.Chat, error) {
	return s.mem.ListChats(ctx, worldID)
}

// SaveEvent appends one event and flushes the world.
func (s *FileStore) SaveEvent(ctx context.Context, evt *models.Event) error {
	if err := s.mem.SaveEvent(ctx, evt); err != nil {
		return err
	}
	return s.persistWorld(evt.WorldID)
}

// SaveEvents appends a batch and flushes each touched world once.
func (s *FileStore) SaveEvents(ctx context.Context, events []*models.Event) error {
	if err := s.mem.SaveEvents(ctx, events); err != nil {
		return err
	}
	touched := make(map[string]struct{})
	for _, evt := range events {
		touched[evt.WorldID] = struct{}{}
	}
	for worldID := range touched {
		if err := s.persistWorld(worldID); err != nil {
			return err
		}
	}
	return nil
}

// GetEvents returns matching events in seq order.
func (s *FileStore) GetEvents(ctx context.Context, worldID string, query EventQuery) ([]*models.Event, error) {
	return s.mem.GetEvents(ctx, worldID, query)
}

// RemoveMessagesFrom truncates a chat from messageID forward.
func (s *FileStore) RemoveMessagesFrom(ctx context.Context, worldID, chatID, messageID string) (*TruncateResult, error) {
	res, err := s.mem.RemoveMessagesFrom(ctx, worldID, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.persistWorld(worldID); err != nil {
		return nil, err
	}
	return res, nil
}

// BranchChatFromMessage copies a chat prefix into a new chat.
func (s *FileStore) BranchChatFromMessage(ctx context.Context, worldID, sourceChatID, messageID string, newChat *models.Chat) error {
	if err := s.mem.BranchChatFromMessage(ctx, worldID, sourceChatID, messageID, newChat); err != nil {
		return err
	}
	if err := s.persistWorld(worldID); err != nil {
		// Roll the new chat back so a partial branch is not observable.
		_ = s.mem.DeleteChat(ctx, worldID, newChat.ID)
		return err
	}
	return nil
}

// Close marks the store closed.
func (s *FileStore) Close() error {
	return s.mem.Close()
}

// Package store provides the append-only event store and the persistence
// layer for worlds, agents, and chats.
//
// Three interchangeable backends implement the same contract: an in-memory
// store, a file-tree store with sidecar backup recovery, and a sqlite store.
// All of them allocate a strictly monotonic per-world seq and deduplicate
// message events by messageId.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/agent-world/agent-world/pkg/models"
)

// Common store errors.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("already exists")
	ErrValidation = errors.New("invalid record")
	ErrClosed     = errors.New("store is closed")
)

// StorageTypeEnv selects the backend: file | sqlite | memory.
const StorageTypeEnv = "AGENT_WORLD_STORAGE_TYPE"

// EventFilters are metadata predicates for event queries.
type EventFilters struct {
	OwnerAgentID     string
	RecipientAgentID string
	ThreadRootID     string
	HasToolCalls     *bool
	IsMemoryOnly     *bool
	IsCrossAgent     *bool
}

// EventQuery selects events from a world's log. Zero value selects all
// events in seq order.
type EventQuery struct {
	// ChatID filters by chat when non-nil. A pointer to the empty string
	// selects events outside any chat.
	ChatID *string

	// AfterSeq returns only events with seq greater than this value.
	AfterSeq int64

	// Types filters by event type when non-empty.
	Types []models.EventType

	// Limit caps the result size when positive.
	Limit int

	Filters *EventFilters
}

// TruncateResult reports the outcome of RemoveMessagesFrom.
type TruncateResult struct {
	Removed      int
	FailedAgents []string
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// World CRUD.
	CreateWorld(ctx context.Context, world *models.World) error
	GetWorld(ctx context.Context, worldID string) (*models.World, error)
	UpdateWorld(ctx context.Context, world *models.World) error
	DeleteWorld(ctx context.Context, worldID string) error
	ListWorlds(ctx context.Context) ([]*models.World, error)

	// Agent CRUD. Agents are keyed by (worldID, agent.ID).
	SaveAgent(ctx context.Context, worldID string, agent *models.Agent) error
	GetAgent(ctx context.Context, worldID, agentID string) (*models.Agent, error)
	DeleteAgent(ctx context.Context, worldID, agentID string) error
	ListAgents(ctx context.Context, worldID string) ([]*models.Agent, error)

	// Chat CRUD. DeleteChat removes the chat's events with it.
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, worldID, chatID string) (*models.Chat, error)
	UpdateChat(ctx context.Context, chat *models.Chat) error
	DeleteChat(ctx context.Context, worldID, chatID string) error
	ListChats(ctx context.Context, worldID string) ([]*models.Chat, error)

	// SaveEvent validates required fields, assigns id/seq/createdAt when
	// unset, and writes atomically. Replaying a message event with an
	// already-stored messageId is idempotent: the stored event is copied
	// into evt and no new row is written.
	SaveEvent(ctx context.Context, evt *models.Event) error

	// SaveEvents writes a batch transactionally per world.
	SaveEvents(ctx context.Context, events []*models.Event) error

	// GetEvents returns events in seq order.
	GetEvents(ctx context.Context, worldID string, query EventQuery) ([]*models.Event, error)

	// RemoveMessagesFrom deletes the message with id messageID and every
	// later event in the same chat.
	RemoveMessagesFrom(ctx context.Context, worldID, chatID, messageID string) (*TruncateResult, error)

	// BranchChatFromMessage creates newChat and copies events from the
	// start of sourceChatID through messageID inclusive. Copied events get
	// fresh ids and messageIds; reply references inside the copied prefix
	// are remapped. On copy failure the new chat is rolled back.
	BranchChatFromMessage(ctx context.Context, worldID, sourceChatID, messageID string, newChat *models.Chat) error

	Close() error
}

// Open creates a store for the given backend type rooted at path.
// Type "memory" ignores path. An empty storageType falls back to the
// AGENT_WORLD_STORAGE_TYPE environment variable, then to memory.
func Open(storageType, path string) (Store, error) {
	if storageType == "" {
		storageType = os.Getenv(StorageTypeEnv)
	}
	switch strings.ToLower(strings.TrimSpace(storageType)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", ErrValidation, storageType)
	}
}

// validateEvent enforces the required fields of the stored record contract.
func validateEvent(evt *models.Event) error {
	if evt == nil {
		return fmt.Errorf("%w: nil event", ErrValidation)
	}
	if evt.WorldID == "" {
		return fmt.Errorf("%w: event missing worldId", ErrValidation)
	}
	switch evt.Type {
	case models.EventMessage, models.EventSSE, models.EventSystem, models.EventTool:
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, evt.Type)
	}
	if evt.Type == models.EventMessage {
		if evt.Sender == "" {
			return fmt.Errorf("%w: message event missing sender", ErrValidation)
		}
		if evt.Metadata == nil {
			return fmt.Errorf("%w: message event missing metadata", ErrValidation)
		}
	}
	if evt.Type == models.EventTool && evt.ToolCallID == "" && evt.Role == models.RoleTool {
		return fmt.Errorf("%w: tool event missing tool_call_id", ErrValidation)
	}
	return nil
}

// matchQuery applies an EventQuery to a single event.
func matchQuery(evt *models.Event, query EventQuery) bool {
	if query.ChatID != nil && evt.ChatID != *query.ChatID {
		return false
	}
	if evt.Seq <= query.AfterSeq {
		return false
	}
	if len(query.Types) > 0 {
		found := false
		for _, t := range query.Types {
			if evt.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f := query.Filters; f != nil {
		meta := evt.Metadata
		if f.OwnerAgentID != "" && !evt.OwnedBy(f.OwnerAgentID) {
			return false
		}
		if f.RecipientAgentID != "" && (meta == nil || meta.RecipientAgentID != f.RecipientAgentID) {
			return false
		}
		if f.ThreadRootID != "" && (meta == nil || meta.ThreadRootID != f.ThreadRootID) {
			return false
		}
		if f.HasToolCalls != nil && (meta == nil || meta.HasToolCalls != *f.HasToolCalls) {
			return false
		}
		if f.IsMemoryOnly != nil && (meta == nil || meta.IsMemoryOnly != *f.IsMemoryOnly) {
			return false
		}
		if f.IsCrossAgent != nil && (meta == nil || meta.IsCrossAgent != *f.IsCrossAgent) {
			return false
		}
	}
	return true
}

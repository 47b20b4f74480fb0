package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/agent-world/agent-world/pkg/models"
)

// SQLiteStore implements Store on a single sqlite database. Entity records
// are stored as JSON documents; event metadata used by query filters is
// mirrored into indexed columns.
type SQLiteStore struct {
	db *sql.DB

	// writeMu serializes writers per process; sqlite allows one writer
	// at a time and seq allocation must not interleave.
	writeMu sync.Mutex
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS worlds (
	id   TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS agents (
	world_id TEXT NOT NULL,
	id       TEXT NOT NULL,
	data     TEXT NOT NULL,
	PRIMARY KEY (world_id, id)
);
CREATE TABLE IF NOT EXISTS chats (
	world_id TEXT NOT NULL,
	id       TEXT NOT NULL,
	data     TEXT NOT NULL,
	PRIMARY KEY (world_id, id)
);
CREATE TABLE IF NOT EXISTS events (
	id                 TEXT PRIMARY KEY,
	world_id           TEXT NOT NULL,
	chat_id            TEXT NOT NULL DEFAULT '',
	type               TEXT NOT NULL,
	seq                INTEGER NOT NULL,
	message_id         TEXT,
	recipient_agent_id TEXT NOT NULL DEFAULT '',
	thread_root_id     TEXT NOT NULL DEFAULT '',
	owner_agent_ids    TEXT NOT NULL DEFAULT ',,',
	has_tool_calls     INTEGER NOT NULL DEFAULT 0,
	is_memory_only     INTEGER NOT NULL DEFAULT 0,
	is_cross_agent     INTEGER NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL,
	data               TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_world_seq ON events(world_id, seq);
CREATE INDEX IF NOT EXISTS idx_events_world_chat ON events(world_id, chat_id, seq);
CREATE INDEX IF NOT EXISTS idx_events_world_message ON events(world_id, message_id);
CREATE INDEX IF NOT EXISTS idx_events_thread_root ON events(world_id, thread_root_id);
`

// NewSQLiteStore opens (and migrates) a sqlite store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite store requires a path", ErrValidation)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// ownerList joins owner agent ids into a comma-delimited token string so
// membership checks can use LIKE against ",id,".
func ownerList(meta *models.EventMetadata) string {
	if meta == nil || len(meta.OwnerAgentIDs) == 0 {
		return ",,"
	}
	return "," + strings.Join(meta.OwnerAgentIDs, ",") + ","
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) getDoc(ctx context.Context, table, worldID, id string, v any) error {
	var query string
	var args []any
	if table == "worlds" {
		query = "SELECT data FROM worlds WHERE id = ?"
		args = []any{id}
	} else {
		query = fmt.Sprintf("SELECT data FROM %s WHERE world_id = ? AND id = ?", table)
		args = []any{worldID, id}
	}
	var data string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, strings.TrimSuffix(table, "s"), id)
	}
	if err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("decode %s row: %w", table, err)
	}
	return nil
}

func (s *SQLiteStore) worldExists(ctx context.Context, worldID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM worlds WHERE id = ?", worldID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: world %s", ErrNotFound, worldID)
	}
	return err
}

// CreateWorld stores a new world row.
func (s *SQLiteStore) CreateWorld(ctx context.Context, world *models.World) error {
	if world == nil || world.ID == "" {
		return fmt.Errorf("%w: world requires an id", ErrValidation)
	}
	if world.CreatedAt.IsZero() {
		world.CreatedAt = time.Now()
	}
	world.UpdatedAt = world.CreatedAt
	data, err := json.Marshal(world)
	if err != nil {
		return fmt.Errorf("encode world: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.db.ExecContext(ctx, "INSERT INTO worlds (id, data) VALUES (?, ?)", world.ID, string(data))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return fmt.Errorf("%w: world %s", ErrConflict, world.ID)
	}
	return err
}

// GetWorld returns the stored world.
func (s *SQLiteStore) GetWorld(ctx context.Context, worldID string) (*models.World, error) {
	var world models.World
	if err := s.getDoc(ctx, "worlds", "", worldID, &world); err != nil {
		return nil, err
	}
	return &world, nil
}

// UpdateWorld replaces the stored world record.
func (s *SQLiteStore) UpdateWorld(ctx context.Context, world *models.World) error {
	if world == nil || world.ID == "" {
		return fmt.Errorf("%w: world requires an id", ErrValidation)
	}
	world.UpdatedAt = time.Now()
	data, err := json.Marshal(world)
	if err != nil {
		return fmt.Errorf("encode world: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, "UPDATE worlds SET data = ? WHERE id = ?", string(data), world.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: world %s", ErrNotFound, world.ID)
	}
	return nil
}

// DeleteWorld removes the world and everything it owns.
func (s *SQLiteStore) DeleteWorld(ctx context.Context, worldID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, "DELETE FROM worlds WHERE id = ?", worldID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: world %s", ErrNotFound, worldID)
	}
	for _, table := range []string{"agents", "chats", "events"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE world_id = ?", table), worldID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListWorlds returns all worlds sorted by id.
func (s *SQLiteStore) ListWorlds(ctx context.Context) ([]*models.World, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM worlds ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.World
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var world models.World
		if err := json.Unmarshal([]byte(data), &world); err != nil {
			return nil, fmt.Errorf("decode world row: %w", err)
		}
		out = append(out, &world)
	}
	return out, rows.Err()
}

// SaveAgent creates or replaces an agent.
func (s *SQLiteStore) SaveAgent(ctx context.Context, worldID string, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("%w: agent requires an id", ErrValidation)
	}
	if err := s.worldExists(ctx, worldID); err != nil {
		return err
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}
	data, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO agents (world_id, id, data) VALUES (?, ?, ?) ON CONFLICT(world_id, id) DO UPDATE SET data = excluded.data",
		worldID, agent.ID, string(data))
	return err
}

// GetAgent returns an agent.
func (s *SQLiteStore) GetAgent(ctx context.Context, worldID, agentID string) (*models.Agent, error) {
	var agent models.Agent
	if err := s.getDoc(ctx, "agents", worldID, agentID, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// DeleteAgent removes an agent.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM agents WHERE world_id = ? AND id = ?", worldID, agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: agent %s", ErrNotFound, agentID)
	}
	return nil
}

// ListAgents returns a world's agents sorted by id.
func (s *SQLiteStore) ListAgents(ctx context.Context, worldID string) ([]*models.Agent, error) {
	if err := s.worldExists(ctx, worldID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM agents WHERE world_id = ? ORDER BY id", worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Agent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var agent models.Agent
		if err := json.Unmarshal([]byte(data), &agent); err != nil {
			return nil, fmt.Errorf("decode agent row: %w", err)
		}
		out = append(out, &agent)
	}
	return out, rows.Err()
}

// CreateChat stores a new chat.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil || chat.ID == "" || chat.WorldID == "" {
		return fmt.Errorf("%w: chat requires id and worldId", ErrValidation)
	}
	if err := s.worldExists(ctx, chat.WorldID); err != nil {
		return err
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
	}
	chat.UpdatedAt = chat.CreatedAt
	data, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("encode chat: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.db.ExecContext(ctx, "INSERT INTO chats (world_id, id, data) VALUES (?, ?, ?)",
		chat.WorldID, chat.ID, string(data))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return fmt.Errorf("%w: chat %s", ErrConflict, chat.ID)
	}
	return err
}

// GetChat returns a chat.
func (s *SQLiteStore) GetChat(ctx context.Context, worldID, chatID string) (*models.Chat, error) {
	var chat models.Chat
	if err := s.getDoc(ctx, "chats", worldID, chatID, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// UpdateChat replaces a chat record.
func (s *SQLiteStore) UpdateChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil || chat.ID == "" || chat.WorldID == "" {
		return fmt.Errorf("%w: chat requires id and worldId", ErrValidation)
	}
	chat.UpdatedAt = time.Now()
	data, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("encode chat: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, "UPDATE chats SET data = ? WHERE world_id = ? AND id = ?",
		string(data), chat.WorldID, chat.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: chat %s", ErrNotFound, chat.ID)
	}
	return nil
}

// DeleteChat removes a chat and its events.
func (s *SQLiteStore) DeleteChat(ctx context.Context, worldID, chatID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE world_id = ? AND id = ?", worldID, chatID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: chat %s", ErrNotFound, chatID)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE world_id = ? AND chat_id = ?", worldID, chatID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListChats returns a world's chats.
func (s *SQLiteStore) ListChats(ctx context.Context, worldID string) ([]*models.Chat, error) {
	if err := s.worldExists(ctx, worldID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM chats WHERE world_id = ? ORDER BY id", worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Chat
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var chat models.Chat
		if err := json.Unmarshal([]byte(data), &chat); err != nil {
			return nil, fmt.Errorf("decode chat row: %w", err)
		}
		out = append(out, &chat)
	}
	return out, rows.Err()
}

// insertEventTx stamps and inserts one event inside tx. Returns false when
// the messageId was already stored (idempotent replay; evt is overwritten
// with the stored row).
func (s *SQLiteStore) insertEventTx(ctx context.Context, tx *sql.Tx, evt *models.Event) (bool, error) {
	if evt.MessageID != "" && evt.IsMessage() {
		var data string
		err := tx.QueryRowContext(ctx,
			"SELECT data FROM events WHERE world_id = ? AND message_id = ? AND type IN ('message','tool')",
			evt.WorldID, evt.MessageID).Scan(&data)
		if err == nil {
			var stored models.Event
			if decErr := json.Unmarshal([]byte(data), &stored); decErr != nil {
				return false, fmt.Errorf("decode stored event: %w", decErr)
			}
			*evt = stored
			return false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, err
		}
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT MAX(seq) FROM events WHERE world_id = ?", evt.WorldID).Scan(&maxSeq); err != nil {
		return false, err
	}
	evt.Seq = maxSeq.Int64 + 1
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	if evt.MessageID == "" && evt.Type == models.EventMessage {
		evt.MessageID = uuid.NewString()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return false, fmt.Errorf("encode event: %w", err)
	}
	meta := evt.Metadata
	recipient, threadRoot := "", ""
	hasTools, memOnly, crossAgent := 0, 0, 0
	if meta != nil {
		recipient = meta.RecipientAgentID
		threadRoot = meta.ThreadRootID
		hasTools = boolInt(meta.HasToolCalls)
		memOnly = boolInt(meta.IsMemoryOnly)
		crossAgent = boolInt(meta.IsCrossAgent)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO events (id, world_id, chat_id, type, seq, message_id, recipient_agent_id,
	thread_root_id, owner_agent_ids, has_tool_calls, is_memory_only, is_cross_agent,
	created_at, data)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, evt.WorldID, evt.ChatID, string(evt.Type), evt.Seq, evt.MessageID,
		recipient, threadRoot, ownerList(meta), hasTools, memOnly, crossAgent,
		evt.CreatedAt.UTC().Format(time.RFC3339Nano), string(data))
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveEvent validates and appends one event.
func (s *SQLiteStore) SaveEvent(ctx context.Context, evt *models.Event) error {
	return s.SaveEvents(ctx, []*models.Event{evt})
}

// SaveEvents validates and appends a batch in one transaction.
func (s *SQLiteStore) SaveEvents(ctx context.Context, events []*models.Event) error {
	for _, evt := range events {
		if err := validateEvent(evt); err != nil {
			return err
		}
		if err := s.worldExists(ctx, evt.WorldID); err != nil {
			return err
		}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, evt := range events {
		if _, err := s.insertEventTx(ctx, tx, evt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetEvents returns matching events in seq order. Indexed columns narrow
// the scan; the full query semantics are applied to the decoded rows.
func (s *SQLiteStore) GetEvents(ctx context.Context, worldID string, query EventQuery) ([]*models.Event, error) {
	if err := s.worldExists(ctx, worldID); err != nil {
		return nil, err
	}

	where := []string{"world_id = ?"}
	args := []any{worldID}
	if query.ChatID != nil {
		where = append(where, "chat_id = ?")
		args = append(args, *query.ChatID)
	}
	if query.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, query.AfterSeq)
	}
	if f := query.Filters; f != nil {
		if f.OwnerAgentID != "" {
			where = append(where, "owner_agent_ids LIKE ?")
			args = append(args, "%,"+f.OwnerAgentID+",%")
		}
		if f.RecipientAgentID != "" {
			where = append(where, "recipient_agent_id = ?")
			args = append(args, f.RecipientAgentID)
		}
		if f.ThreadRootID != "" {
			where = append(where, "thread_root_id = ?")
			args = append(args, f.ThreadRootID)
		}
		if f.HasToolCalls != nil {
			where = append(where, "has_tool_calls = ?")
			args = append(args, boolInt(*f.HasToolCalls))
		}
		if f.IsMemoryOnly != nil {
			where = append(where, "is_memory_only = ?")
			args = append(args, boolInt(*f.IsMemoryOnly))
		}
		if f.IsCrossAgent != nil {
			where = append(where, "is_cross_agent = ?")
			args = append(args, boolInt(*f.IsCrossAgent))
		}
	}

	q := "SELECT data FROM events WHERE " + strings.Join(where, " AND ") + " ORDER BY seq"
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var evt models.Event
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			return nil, fmt.Errorf("decode event row: %w", err)
		}
		if !matchQuery(&evt, query) {
			continue
		}
		out = append(out, &evt)
		if query.Limit > 0 && len(out) >= query.Limit {
			break
		}
	}
	return out, rows.Err()
}

// RemoveMessagesFrom truncates a chat from messageID forward.
func (s *SQLiteStore) RemoveMessagesFrom(ctx context.Context, worldID, chatID, messageID string) (*TruncateResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var cutSeq int64
	err = tx.QueryRowContext(ctx,
		"SELECT seq FROM events WHERE world_id = ? AND chat_id = ? AND message_id = ? AND type IN ('message','tool')",
		worldID, chatID, messageID).Scan(&cutSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message %s in chat %s", ErrNotFound, messageID, chatID)
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM events WHERE world_id = ? AND chat_id = ? AND seq >= ?",
		worldID, chatID, cutSeq)
	if err != nil {
		return nil, err
	}
	removed, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &TruncateResult{Removed: int(removed)}, nil
}

// BranchChatFromMessage copies a chat prefix into a new chat transactionally.
func (s *SQLiteStore) BranchChatFromMessage(ctx context.Context, worldID, sourceChatID, messageID string, newChat *models.Chat) error {
	if newChat == nil || newChat.ID == "" {
		return fmt.Errorf("%w: branch requires a new chat", ErrValidation)
	}
	if _, err := s.GetChat(ctx, worldID, sourceChatID); err != nil {
		return err
	}
	source, err := s.GetEvents(ctx, worldID, EventQuery{ChatID: &sourceChatID})
	if err != nil {
		return err
	}
	copies, err := branchCopy(source, sourceChatID, messageID, newChat.ID)
	if err != nil {
		return err
	}

	newChat.WorldID = worldID
	if newChat.CreatedAt.IsZero() {
		newChat.CreatedAt = time.Now()
	}
	newChat.UpdatedAt = newChat.CreatedAt
	newChat.MessageCount = 0
	for _, c := range copies {
		if c.Type == models.EventMessage {
			newChat.MessageCount++
		}
	}
	chatData, err := json.Marshal(newChat)
	if err != nil {
		return fmt.Errorf("encode chat: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT INTO chats (world_id, id, data) VALUES (?, ?, ?)",
		worldID, newChat.ID, string(chatData)); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: chat %s", ErrConflict, newChat.ID)
		}
		return err
	}
	for _, c := range copies {
		if _, err := s.insertEventTx(ctx, tx, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

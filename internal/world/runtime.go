// Package world hosts the per-world runtime: the agents, the event bus,
// agent memory, the pending-HITL table, the tool registry, and the
// activity counter that drives SSE idle detection. All mutation of a
// world's collections goes through its Runtime.
package world

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-world/agent-world/internal/bus"
	"github.com/agent-world/agent-world/internal/hitl"
	"github.com/agent-world/agent-world/internal/memory"
	"github.com/agent-world/agent-world/internal/skills"
	"github.com/agent-world/agent-world/internal/store"
	"github.com/agent-world/agent-world/internal/tools"
	"github.com/agent-world/agent-world/pkg/models"
)

// ShellTimeoutVariable is the world variable overriding the shell tool
// timeout, in milliseconds.
const ShellTimeoutVariable = "shell_timeout_ms"

// Runtime is one loaded world: its configuration, agents, bus, memory,
// pending human requests, and tools.
type Runtime struct {
	mu     sync.RWMutex
	world  *models.World
	agents map[string]*models.Agent

	store   store.Store
	emitter *bus.Emitter
	memory  *memory.Manager
	pending *hitl.Table
	tools   *tools.Registry
	skills  *skills.Registry
	logger  *slog.Logger

	// callCounts is chatID -> agentID -> LLM calls this chat.
	callCounts map[string]map[string]int

	activity activityCounter

	mcpClients []*tools.MCPClient
	closed     bool
}

// Options configure runtime construction.
type Options struct {
	// HITLTimeout bounds pending human requests; zero uses the default.
	HITLTimeout time.Duration

	// Skills is the registry backing load_skill and the system-prompt
	// skill listing. Nil disables skill support.
	Skills *skills.Registry
}

// NewRuntime loads a world from storage into a live runtime: agents and
// chat memory are rebuilt from the store, built-in tools are registered,
// and configured MCP servers are connected (connection failures are
// logged, not fatal).
func NewRuntime(ctx context.Context, w *models.World, st store.Store, logger *slog.Logger, opts Options) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "world", "worldId", w.ID)

	r := &Runtime{
		world:      w,
		agents:     make(map[string]*models.Agent),
		store:      st,
		emitter:    bus.NewEmitter(logger),
		memory:     memory.NewManager(),
		pending:    hitl.NewTable(opts.HITLTimeout, logger),
		tools:      tools.NewRegistry(),
		skills:     opts.Skills,
		logger:     logger,
		callCounts: make(map[string]map[string]int),
	}

	agents, err := st.ListAgents(ctx, w.ID)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	for _, agent := range agents {
		r.agents[agent.ID] = agent
	}

	events, err := st.GetEvents(ctx, w.ID, store.EventQuery{})
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	r.memory.Reset(events)
	r.rebuildCallCounts(events)

	r.tools.Register(tools.NewShellTool())
	r.tools.Register(tools.NewCreateAgentTool())
	r.tools.Register(tools.NewHITLTool())
	if r.skills != nil {
		r.tools.Register(tools.NewLoadSkillTool(r.skills))
	}
	r.connectMCP(ctx)

	return r, nil
}

// connectMCP attaches the world's configured MCP servers and registers
// their tools.
func (r *Runtime) connectMCP(ctx context.Context) {
	for _, cfg := range r.world.MCPConfig {
		client, err := tools.NewMCPClient(ctx, cfg)
		if err != nil {
			r.logger.Warn("mcp server unavailable", "server", cfg.ID, "error", err)
			continue
		}
		names, err := tools.RegisterMCPTools(ctx, r.tools, client)
		if err != nil {
			r.logger.Warn("mcp tool listing failed", "server", cfg.ID, "error", err)
			client.Close()
			continue
		}
		r.mcpClients = append(r.mcpClients, client)
		r.logger.Info("mcp server attached", "server", cfg.ID, "tools", len(names))
	}
}

// rebuildCallCounts restores per-chat LLM call counts from persisted
// assistant messages.
func (r *Runtime) rebuildCallCounts(events []*models.Event) {
	for _, evt := range events {
		if evt.Type != models.EventMessage || evt.Role != models.RoleAssistant {
			continue
		}
		chat := r.callCounts[evt.ChatID]
		if chat == nil {
			chat = make(map[string]int)
			r.callCounts[evt.ChatID] = chat
		}
		chat[evt.Sender]++
	}
}

// World returns a snapshot copy of the world record.
func (r *Runtime) World() *models.World {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w := *r.world
	return &w
}

// UpdateWorld replaces the world record after a persisted update.
func (r *Runtime) UpdateWorld(w *models.World) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.world = w
}

// Emitter exposes the world's event bus for subscribers.
func (r *Runtime) Emitter() *bus.Emitter { return r.emitter }

// Memory exposes the world's agent memory manager.
func (r *Runtime) Memory() *memory.Manager { return r.memory }

// Tools exposes the world's tool registry.
func (r *Runtime) Tools() *tools.Registry { return r.tools }

// Pending exposes the world's pending-HITL table.
func (r *Runtime) Pending() *hitl.Table { return r.pending }

// Skills returns the skill registry, possibly nil.
func (r *Runtime) Skills() *skills.Registry { return r.skills }

// Agent returns one agent by id.
func (r *Runtime) Agent(agentID string) (*models.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	return agent, ok
}

// Agents returns all agents of the world.
func (r *Runtime) Agents() []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, agent)
	}
	return out
}

// AddAgent registers an already-persisted agent in the runtime.
func (r *Runtime) AddAgent(agent *models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agent.ID]; exists {
		return fmt.Errorf("agent %q already exists", agent.ID)
	}
	r.agents[agent.ID] = agent
	return nil
}

// UpdateAgent replaces an agent's runtime record.
func (r *Runtime) UpdateAgent(agent *models.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.ID] = agent
}

// RemoveAgent drops the agent and its memory.
func (r *Runtime) RemoveAgent(agentID string) {
	r.mu.Lock()
	delete(r.agents, agentID)
	r.mu.Unlock()
	r.memory.DeleteAgent(agentID)
}

// CallCount returns the agent's LLM call count within a chat.
func (r *Runtime) CallCount(chatID, agentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callCounts[chatID][agentID]
}

// CallCounts returns all agents' call counts for a chat.
func (r *Runtime) CallCounts(chatID string) map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.callCounts[chatID]))
	for id, n := range r.callCounts[chatID] {
		out[id] = n
	}
	return out
}

// IncrementCallCount bumps the agent's call count for a chat and the
// agent's lifetime total.
func (r *Runtime) IncrementCallCount(chatID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat := r.callCounts[chatID]
	if chat == nil {
		chat = make(map[string]int)
		r.callCounts[chatID] = chat
	}
	chat[agentID]++
	if agent, ok := r.agents[agentID]; ok {
		agent.LLMCallCount++
	}
}

// ResetCallCounts clears per-chat counts after a memory resync.
func (r *Runtime) ResetCallCounts(events []*models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callCounts = make(map[string]map[string]int)
	r.rebuildCallCounts(events)
}

// PublishOptions customize PublishMessage.
type PublishOptions struct {
	MessageID        string
	ReplyToMessageID string
	ChatID           string
}

// PublishMessage stamps metadata on a new message, persists it, appends
// it to owner memories, and emits it on the message channel. Persistence
// happens before emission so subscribers can rely on the stored seq.
// Replaying a messageId is idempotent.
func (r *Runtime) PublishMessage(ctx context.Context, content, sender string, opts PublishOptions) (*models.Event, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, fmt.Errorf("world %s is closed", r.world.ID)
	}
	w := r.world
	agents := make([]*models.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		agents = append(agents, agent)
	}
	r.mu.RUnlock()

	chatID := opts.ChatID
	if chatID == "" {
		chatID = w.CurrentChatID
	}
	messageID := opts.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	// A replayed messageId is idempotent: the stored event is returned
	// without re-emitting, so retries never re-trigger agent turns.
	if opts.MessageID != "" {
		if existing := r.memory.Lookup(opts.MessageID); existing != nil {
			return existing.Clone(), nil
		}
	}

	isAgent := sender != memory.HumanSender && sender != ""
	role := models.RoleUser
	if isAgent {
		role = models.RoleAssistant
	}

	recipient := memory.RecipientOf(content, agents)
	direction := models.DirectionHumanToAgent
	if isAgent {
		if recipient != "" && recipient != sender {
			direction = models.DirectionAgentToAgent
		} else {
			direction = models.DirectionAgentToHuman
		}
	}

	evt := &models.Event{
		WorldID:          w.ID,
		ChatID:           chatID,
		Type:             models.EventMessage,
		MessageID:        messageID,
		Sender:           sender,
		Role:             role,
		Content:          content,
		ReplyToMessageID: opts.ReplyToMessageID,
		Metadata:         &models.EventMetadata{Direction: direction},
	}
	evt.Metadata.RecipientAgentID = recipient
	evt.Metadata.IsCrossAgent = direction == models.DirectionAgentToAgent
	evt.Metadata.ThreadRootID, evt.Metadata.ThreadDepth = memory.ComputeThread(
		opts.ReplyToMessageID, messageID, r.memory.Lookup)
	evt.Metadata.OwnerAgentIDs = memory.ComputeOwners(agents, w, evt, r.CallCounts(chatID))

	if err := r.store.SaveEvent(ctx, evt); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	r.memory.Append(evt)
	r.emitter.Publish(bus.ChannelMessage, evt)
	return evt, nil
}

// PersistAndEmit saves an orchestrator-produced event (assistant reply,
// tool result, system notice) and publishes it on the matching channel.
func (r *Runtime) PersistAndEmit(ctx context.Context, evt *models.Event) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return fmt.Errorf("world %s is closed", r.world.ID)
	}

	evt.WorldID = r.world.ID
	if err := r.store.SaveEvent(ctx, evt); err != nil {
		return fmt.Errorf("persist event: %w", err)
	}
	if evt.IsMessage() {
		r.memory.Append(evt)
	}
	channel := bus.ChannelMessage
	if evt.Type == models.EventSystem {
		channel = bus.ChannelSystem
	}
	r.emitter.Publish(channel, evt)
	return nil
}

// EmitSSE publishes a stream event; stream events are transient and not
// persisted here.
func (r *Runtime) EmitSSE(ev *models.StreamEvent) {
	if ev.WorldName == "" {
		ev.WorldName = r.world.Name
	}
	r.emitter.Publish(bus.ChannelSSE, ev)
}

// ResolveHITL answers a pending human request, persists the choice as a
// system event, and emits a refresh notice when the request asked for
// one.
func (r *Runtime) ResolveHITL(ctx context.Context, requestID, choice string) error {
	req, err := r.pending.Resolve(requestID, choice)
	if err != nil {
		return err
	}

	evt := &models.Event{
		WorldID: r.world.ID,
		ChatID:  r.ChatID(),
		Type:    models.EventSystem,
		Content: fmt.Sprintf("human chose %q for request %s", choice, requestID),
	}
	if err := r.store.SaveEvent(ctx, evt); err != nil {
		r.logger.Warn("persist hitl choice failed", "requestId", requestID, "error", err)
	}
	r.emitter.Publish(bus.ChannelSystem, evt)

	if req.RefreshAfterDismiss() {
		r.EmitSSE(&models.StreamEvent{
			Type:     models.StreamSystem,
			Level:    "info",
			Category: "crud",
			Message:  "world state changed, reload",
		})
	}
	return nil
}

// Close cancels pending HITLs, closes subscribers and MCP clients, and
// rejects further publishes. Safe to call more than once.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	clients := r.mcpClients
	r.mcpClients = nil
	r.mu.Unlock()

	r.pending.CancelAll()
	r.emitter.Close()
	for _, client := range clients {
		client.Close()
	}
}

// tools.Runtime implementation.

// WorldID returns the hosting world's id.
func (r *Runtime) WorldID() string { return r.world.ID }

// ChatID returns the world's current chat id.
func (r *Runtime) ChatID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.world.CurrentChatID
}

// WorkingDirectory returns the trusted working directory.
func (r *Runtime) WorkingDirectory() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.world.WorkingDirectory()
}

// ShellTimeout returns the shell tool timeout, from the world variable
// or the default.
func (r *Runtime) ShellTimeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if raw := r.world.Variables[ShellTimeoutVariable]; raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return models.DefaultShellTimeoutMS * time.Millisecond
}

// DefaultProviderModel returns the world's chat LLM defaults.
func (r *Runtime) DefaultProviderModel() (string, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.world.ChatLLMProvider, r.world.ChatLLMModel
}

// CreateAgent persists a new agent and registers it in the runtime.
func (r *Runtime) CreateAgent(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	r.mu.RLock()
	_, exists := r.agents[agent.ID]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("agent %q already exists", agent.ID)
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	if err := r.store.SaveAgent(ctx, r.world.ID, agent); err != nil {
		return nil, err
	}
	if err := r.AddAgent(agent); err != nil {
		return nil, err
	}
	r.logger.Info("agent created", "agentId", agent.ID)
	return agent, nil
}

// EnqueueHITL registers a pending human request.
func (r *Runtime) EnqueueHITL(prompt string, options []string, metadata map[string]any) (string, <-chan string) {
	req, choice := r.pending.Enqueue(prompt, options, metadata)
	r.EmitSSE(&models.StreamEvent{
		Type:     models.StreamSystem,
		Level:    "info",
		Category: "hitl",
		Message:  prompt,
	})
	return req.ID, choice
}

// EmitToolStream publishes a tool output stream event.
func (r *Runtime) EmitToolStream(ev *models.StreamEvent) {
	r.activity.touch()
	r.EmitSSE(ev)
}

// Package orchestrator runs agent turns: it decides which agents answer
// an incoming message, drives the LLM streaming loop, executes tools
// behind the approval gate, and persists every result to the world's
// event store.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agent-world/agent-world/internal/approval"
	"github.com/agent-world/agent-world/internal/bus"
	"github.com/agent-world/agent-world/internal/llm"
	"github.com/agent-world/agent-world/internal/memory"
	"github.com/agent-world/agent-world/internal/observability"
	"github.com/agent-world/agent-world/internal/world"
	"github.com/agent-world/agent-world/pkg/models"
)

// Orchestrator coordinates agent turns across worlds. One instance
// serves the whole process; per-world state lives in the world runtime.
type Orchestrator struct {
	providers *llm.Registry
	logger    *slog.Logger
	metrics   *observability.Metrics

	// approvalTimeout bounds how long a paused turn waits for a human
	// decision before the request resolves as a deny.
	approvalTimeout time.Duration
}

// New creates an orchestrator on top of the provider registry.
func New(providers *llm.Registry, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		providers:       providers,
		logger:          logger.With("component", "orchestrator"),
		approvalTimeout: approval.DefaultTimeout,
	}
}

// SetMetrics enables LLM-call and tool-execution metric collection.
func (o *Orchestrator) SetMetrics(m *observability.Metrics) { o.metrics = m }

// recordLLMCall tracks one completion attempt.
func (o *Orchestrator) recordLLMCall(provider, model, status string, usage *models.Usage) {
	if o.metrics == nil {
		return
	}
	o.metrics.LLMCalls.WithLabelValues(provider, model, status).Inc()
	if usage != nil {
		o.metrics.LLMTokens.WithLabelValues(provider, model, "input").Add(float64(usage.InputTokens))
		o.metrics.LLMTokens.WithLabelValues(provider, model, "output").Add(float64(usage.OutputTokens))
	}
}

// Attach subscribes the orchestrator to a world's message channel so
// every published message is dispatched to the world's agents. Returns
// the unsubscribe function.
func (o *Orchestrator) Attach(ctx context.Context, rt *world.Runtime) (unsubscribe func()) {
	return rt.Emitter().Subscribe(bus.ChannelMessage, func(payload any) {
		evt, ok := payload.(*models.Event)
		if !ok {
			return
		}
		o.Dispatch(ctx, rt, evt)
	})
}

// Dispatch routes one message event to the world's agents. Responding
// agents run their turns concurrently; their streams interleave on the
// SSE channel.
func (o *Orchestrator) Dispatch(ctx context.Context, rt *world.Runtime, evt *models.Event) {
	if evt.Type != models.EventMessage && evt.Type != models.EventTool {
		return
	}

	// A tool result for a synthetic approval call resumes the paused
	// turn instead of starting a new one.
	if evt.Role == models.RoleTool {
		if strings.HasPrefix(evt.ToolCallID, "approval-") {
			o.resumeApprovals(ctx, rt, evt)
		}
		return
	}
	// Assistant tool-call shells carry no conversational content.
	if evt.Content == "" {
		return
	}

	w := rt.World()
	for _, agent := range rt.Agents() {
		count := rt.CallCount(evt.ChatID, agent.ID)
		switch memory.ShouldRespond(agent, w, evt, count) {
		case memory.DecisionRespond:
			agent := agent
			go o.RunTurn(ctx, rt, agent, evt)
		case memory.DecisionMemoryOnly:
			rt.EmitSSE(&models.StreamEvent{
				Type:      models.StreamMemoryOnly,
				AgentName: agent.ID,
				Sender:    evt.Sender,
				Content:   evt.Content,
				MessageID: evt.MessageID,
			})
		case memory.DecisionTurnLimit:
			o.publishTurnLimit(ctx, rt, agent, evt.ChatID)
		}
	}
}

// publishTurnLimit persists and emits the system notice for an agent
// that hit its per-chat call limit.
func (o *Orchestrator) publishTurnLimit(ctx context.Context, rt *world.Runtime, agent *models.Agent, chatID string) {
	limit := agent.EffectiveCallLimit(rt.World())
	notice := fmt.Sprintf("agent '%s' has reached turn limit %d", agent.ID, limit)
	evt := &models.Event{
		ChatID:  chatID,
		Type:    models.EventSystem,
		Content: notice,
	}
	if err := rt.PersistAndEmit(ctx, evt); err != nil {
		o.logger.Warn("persist turn-limit notice failed", "agentId", agent.ID, "error", err)
	}
	rt.EmitSSE(&models.StreamEvent{
		Type:      models.StreamSystem,
		AgentName: agent.ID,
		Level:     "warn",
		Category:  "turn-limit",
		Message:   notice,
	})
}

// resumeApprovals continues paused turns for every agent owning the
// approval decision.
func (o *Orchestrator) resumeApprovals(ctx context.Context, rt *world.Runtime, evt *models.Event) {
	for _, agent := range rt.Agents() {
		if !evt.OwnedBy(agent.ID) {
			continue
		}
		agent := agent
		go o.resumeAfterApproval(ctx, rt, agent, evt)
	}
}

// resumeAfterApproval looks up the original tool call behind a decided
// approval and either executes it or records the denial, then lets the
// LLM continue.
func (o *Orchestrator) resumeAfterApproval(ctx context.Context, rt *world.Runtime, agent *models.Agent, decision *models.Event) {
	rt.BeginActivity()
	defer rt.CompleteActivity()

	chatID := decision.ChatID
	events := rt.Memory().ForAgent(agent.ID, chatID)

	original, ok := findOriginalCall(events, decision.ToolCallID)
	if !ok {
		o.logger.Warn("approval decision without a matching request",
			"agentId", agent.ID, "toolCallId", decision.ToolCallID)
		return
	}

	switch approval.Evaluate(events, original) {
	case approval.StateApprovedOnce, approval.StateApprovedSession:
		o.executeTool(ctx, rt, agent, chatID, original)
	case approval.StateDenied:
		o.persistToolResult(ctx, rt, agent, chatID, original.ID, approval.DenialResult())
	default:
		return
	}
	o.continueTurn(ctx, rt, agent, chatID)
}

// findOriginalCall resolves the synthetic approval call id back to the
// tool call it gates.
func findOriginalCall(events []*models.Event, syntheticID string) (models.ToolCall, bool) {
	for _, evt := range events {
		for _, tc := range evt.ToolCalls {
			if tc.ID != syntheticID || tc.Function.Name != approval.RequestToolName {
				continue
			}
			args := tc.ArgsMap()
			orig, _ := args["originalToolCall"].(map[string]any)
			id, _ := orig["id"].(string)
			name, _ := orig["name"].(string)
			if id == "" || name == "" {
				return models.ToolCall{}, false
			}
			callArgs, _ := orig["args"].(map[string]any)
			return models.NewToolCall(id, name, callArgs), true
		}
	}
	return models.ToolCall{}, false
}

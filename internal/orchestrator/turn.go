package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agent-world/agent-world/internal/approval"
	"github.com/agent-world/agent-world/internal/llm"
	"github.com/agent-world/agent-world/internal/memory"
	"github.com/agent-world/agent-world/internal/tools"
	"github.com/agent-world/agent-world/internal/world"
	"github.com/agent-world/agent-world/pkg/models"
)

// RunTurn executes a full agent turn for one triggering message,
// including any tool-execution rounds.
func (o *Orchestrator) RunTurn(ctx context.Context, rt *world.Runtime, agent *models.Agent, trigger *models.Event) {
	rt.BeginActivity()
	defer rt.CompleteActivity()
	o.loop(ctx, rt, agent, trigger.ChatID)
}

// continueTurn re-enters the LLM loop after tool results arrived
// outside the original turn (approval resolution).
func (o *Orchestrator) continueTurn(ctx context.Context, rt *world.Runtime, agent *models.Agent, chatID string) {
	o.loop(ctx, rt, agent, chatID)
}

// completion is the aggregated outcome of one streamed LLM call.
type completion struct {
	messageID string
	content   string
	toolCalls []models.ToolCall
	usage     *models.Usage
}

// loop alternates LLM calls and tool execution until the model stops
// requesting tools, a client-side call pauses the turn, or the call
// limit is hit.
func (o *Orchestrator) loop(ctx context.Context, rt *world.Runtime, agent *models.Agent, chatID string) {
	for {
		limit := agent.EffectiveCallLimit(rt.World())
		if rt.CallCount(chatID, agent.ID) >= limit {
			o.publishTurnLimit(ctx, rt, agent, chatID)
			return
		}

		res, err := o.completeOnce(ctx, rt, agent, chatID)
		if err != nil {
			// Transport failures never count against the agent; the
			// caller retries by resending.
			o.logger.Error("llm call failed", "agentId", agent.ID, "error", err)
			rt.EmitSSE(&models.StreamEvent{
				Type:      models.StreamError,
				AgentName: agent.ID,
				Error:     err.Error(),
			})
			sysEvt := &models.Event{
				ChatID:  chatID,
				Type:    models.EventSystem,
				Content: fmt.Sprintf("llm call for agent '%s' failed: %v", agent.ID, err),
			}
			if perr := rt.PersistAndEmit(ctx, sysEvt); perr != nil {
				o.logger.Warn("persist llm failure notice failed", "error", perr)
			}
			return
		}
		rt.IncrementCallCount(chatID, agent.ID)

		plan := o.planToolCalls(rt, agent, chatID, res.toolCalls)
		o.publishAssistant(ctx, rt, agent, chatID, res.messageID, res.content, plan.all)

		for _, tc := range plan.denied {
			o.persistToolResult(ctx, rt, agent, chatID, tc.ID, approval.DenialResult())
		}
		for _, tc := range plan.ready {
			o.executeTool(ctx, rt, agent, chatID, tc)
		}
		for _, synthetic := range plan.pending {
			o.scheduleApprovalExpiry(rt, agent, chatID, synthetic)
		}

		if plan.waiting {
			return
		}
		if len(plan.ready) == 0 && len(plan.denied) == 0 {
			return
		}
	}
}

// toolPlan classifies an assistant's tool calls after the approval gate.
type toolPlan struct {
	// all is what the persisted assistant message carries, including any
	// synthetic approval requests.
	all []models.ToolCall

	ready  []models.ToolCall
	denied []models.ToolCall

	// pending holds the synthetic approval calls awaiting a human
	// decision; each gets an expiry timer.
	pending []models.ToolCall

	// waiting means a client-side call pauses the turn.
	waiting bool
}

// planToolCalls applies the approval state machine to each requested
// tool call. Calls without a granted approval are transformed into
// synthetic client.requestApproval calls that stop the turn.
func (o *Orchestrator) planToolCalls(rt *world.Runtime, agent *models.Agent, chatID string, calls []models.ToolCall) toolPlan {
	plan := toolPlan{}
	if len(calls) == 0 {
		return plan
	}
	events := rt.Memory().ForAgent(agent.ID, chatID)

	for _, tc := range calls {
		if tc.IsClientSide() {
			plan.all = append(plan.all, tc)
			plan.waiting = true
			continue
		}

		tool, known := rt.Tools().Get(tc.Function.Name)
		if !known || !tool.RequiresApproval() {
			// Unknown tools run through the registry so the model gets
			// a structured error result.
			plan.all = append(plan.all, tc)
			plan.ready = append(plan.ready, tc)
			continue
		}

		switch approval.Evaluate(events, tc) {
		case approval.StateApprovedOnce, approval.StateApprovedSession:
			plan.all = append(plan.all, tc)
			plan.ready = append(plan.ready, tc)
		case approval.StateDenied:
			plan.all = append(plan.all, tc)
			plan.denied = append(plan.denied, tc)
		default:
			message := fmt.Sprintf("Agent %s wants to run %s. Allow it?", agent.ID, tc.Function.Name)
			synthetic := approval.SyntheticCall(tc, message)
			plan.all = append(plan.all, tc, synthetic)
			plan.pending = append(plan.pending, synthetic)
			plan.waiting = true
		}
	}
	return plan
}

// scheduleApprovalExpiry resolves an unanswered approval request as a
// deny after the timeout, so a paused turn always ends. A decision that
// arrived first wins; the timer then does nothing.
func (o *Orchestrator) scheduleApprovalExpiry(rt *world.Runtime, agent *models.Agent, chatID string, synthetic models.ToolCall) {
	time.AfterFunc(o.approvalTimeout, func() {
		events := rt.Memory().ForAgent(agent.ID, chatID)
		original, ok := findOriginalCall(events, synthetic.ID)
		if !ok {
			return
		}
		if approval.Evaluate(events, original) != approval.StateRequested {
			return
		}
		o.logger.Info("approval request timed out, denying",
			"agentId", agent.ID, "toolCallId", synthetic.ID)

		payload, err := json.Marshal(&models.ToolResultPayload{
			Type:     "tool_result",
			Decision: approval.DecisionDeny,
			ToolName: original.Function.Name,
		})
		if err != nil {
			return
		}
		evt := &models.Event{
			ChatID:     chatID,
			Type:       models.EventTool,
			MessageID:  uuid.NewString(),
			Sender:     "system",
			Role:       models.RoleTool,
			ToolCallID: synthetic.ID,
			Content:    string(payload),
			Metadata: &models.EventMetadata{
				OwnerAgentIDs: []string{agent.ID},
				Direction:     models.DirectionSystem,
			},
		}
		if err := rt.PersistAndEmit(context.Background(), evt); err != nil {
			o.logger.Warn("persist approval expiry failed",
				"toolCallId", synthetic.ID, "error", err)
		}
	})
}

// completeOnce performs one streamed LLM call, emitting start/chunk/end
// SSE events, and aggregates the outcome.
func (o *Orchestrator) completeOnce(ctx context.Context, rt *world.Runtime, agent *models.Agent, chatID string) (*completion, error) {
	providerName := agent.Provider
	modelName := agent.Model
	if providerName == "" || modelName == "" {
		dp, dm := rt.DefaultProviderModel()
		if providerName == "" {
			providerName = dp
		}
		if modelName == "" {
			modelName = dm
		}
	}
	provider, err := o.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	req := &llm.Request{
		Model:       modelName,
		System:      o.systemPrompt(rt, agent),
		Messages:    o.contextFor(rt, agent, chatID),
		Tools:       toolDefs(rt),
		MaxTokens:   agent.MaxTokens,
		Temperature: agent.Temperature,
	}

	stream, err := provider.Complete(ctx, req)
	if err != nil {
		o.recordLLMCall(providerName, modelName, "error", nil)
		return nil, err
	}

	res := &completion{messageID: uuid.NewString()}
	rt.EmitSSE(&models.StreamEvent{
		Type:      models.StreamStart,
		AgentName: agent.ID,
		MessageID: res.messageID,
		Sender:    agent.ID,
	})

	var text strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			o.recordLLMCall(providerName, modelName, "error", nil)
			return nil, chunk.Err
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			rt.TouchActivity()
			rt.EmitSSE(&models.StreamEvent{
				Type:      models.StreamChunk,
				AgentName: agent.ID,
				MessageID: res.messageID,
				Sender:    agent.ID,
				Content:   chunk.Text,
			})
		}
		if chunk.ToolCall != nil {
			res.toolCalls = append(res.toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			res.usage = chunk.Usage
		}
	}
	res.content = text.String()

	if len(res.toolCalls) > 0 {
		// Boundary chunk so clients can render the calls with their
		// parameters.
		rt.EmitSSE(&models.StreamEvent{
			Type:      models.StreamChunk,
			AgentName: agent.ID,
			MessageID: res.messageID,
			Sender:    agent.ID,
			Content:   formatToolCallSummary(res.toolCalls),
			ToolCalls: res.toolCalls,
		})
	}
	rt.EmitSSE(&models.StreamEvent{
		Type:      models.StreamEnd,
		AgentName: agent.ID,
		MessageID: res.messageID,
		Sender:    agent.ID,
		Content:   res.content,
		Usage:     res.usage,
	})
	o.recordLLMCall(providerName, modelName, "success", res.usage)
	return res, nil
}

func formatToolCallSummary(calls []models.ToolCall) string {
	names := make([]string, 0, len(calls))
	for _, tc := range calls {
		names = append(names, tc.Function.Name)
	}
	return fmt.Sprintf("[calling tools: %s]", strings.Join(names, ", "))
}

// systemPrompt builds the agent's system block: the configured prompt
// plus the working-directory line and the available-skills listing.
func (o *Orchestrator) systemPrompt(rt *world.Runtime, agent *models.Agent) string {
	var b strings.Builder
	b.WriteString(agent.SystemPrompt)
	fmt.Fprintf(&b, "\n\nworking directory: %s", rt.WorkingDirectory())

	if reg := rt.Skills(); reg != nil {
		list := reg.List()
		if len(list) > 0 {
			sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
			b.WriteString("\n\n## Agent Skills\n<available_skills>\n")
			for _, s := range list {
				fmt.Fprintf(&b, "- %s: %s\n", s.ID, s.Description)
			}
			b.WriteString("</available_skills>")
		}
	}
	return b.String()
}

// contextFor flattens the agent's chat memory into the LLM message list
// with client-side calls and orphan tool rows elided.
func (o *Orchestrator) contextFor(rt *world.Runtime, agent *models.Agent, chatID string) []llm.Message {
	events := memory.FilterClientSideMessages(rt.Memory().ForAgent(agent.ID, chatID))
	out := make([]llm.Message, 0, len(events))
	for _, evt := range events {
		switch {
		case evt.Role == models.RoleTool:
			out = append(out, llm.Message{
				Role:       "tool",
				Content:    evt.Content,
				ToolCallID: evt.ToolCallID,
			})
		case evt.Sender == agent.ID && evt.Role == models.RoleAssistant:
			out = append(out, llm.Message{
				Role:      "assistant",
				Content:   evt.Content,
				ToolCalls: evt.ToolCalls,
			})
		case evt.Type == models.EventSystem:
			// System notices are client-facing, not model context.
		default:
			// Everything inbound reads as user from this agent's view.
			out = append(out, llm.Message{Role: "user", Content: evt.Content})
		}
	}
	return out
}

// toolDefs exposes the world's registered tools to the model.
func toolDefs(rt *world.Runtime) []llm.ToolDef {
	list := rt.Tools().List()
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	defs := make([]llm.ToolDef, 0, len(list))
	for _, tool := range list {
		defs = append(defs, llm.ToolDef{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	return defs
}

// publishAssistant persists the assistant reply with stamped metadata
// and emits it so other agents and clients observe it.
func (o *Orchestrator) publishAssistant(ctx context.Context, rt *world.Runtime, agent *models.Agent, chatID, messageID, content string, calls []models.ToolCall) {
	w := rt.World()
	agents := rt.Agents()

	evt := &models.Event{
		ChatID:    chatID,
		Type:      models.EventMessage,
		MessageID: messageID,
		Sender:    agent.ID,
		Role:      models.RoleAssistant,
		Content:   content,
		ToolCalls: calls,
		Metadata: &models.EventMetadata{
			Direction:    models.DirectionAgentToHuman,
			HasToolCalls: len(calls) > 0,
		},
	}
	recipient := memory.RecipientOf(content, agents)
	evt.Metadata.RecipientAgentID = recipient
	if recipient != "" && recipient != agent.ID {
		evt.Metadata.Direction = models.DirectionAgentToAgent
		evt.Metadata.IsCrossAgent = true
	}
	evt.Metadata.ThreadRootID, evt.Metadata.ThreadDepth = memory.ComputeThread("", messageID, rt.Memory().Lookup)
	evt.Metadata.OwnerAgentIDs = memory.ComputeOwners(agents, w, evt, rt.CallCounts(chatID))

	if err := rt.PersistAndEmit(ctx, evt); err != nil {
		o.logger.Error("persist assistant message failed", "agentId", agent.ID, "error", err)
	}
}

// persistToolResult stores a role=tool event for a tool call id.
func (o *Orchestrator) persistToolResult(ctx context.Context, rt *world.Runtime, agent *models.Agent, chatID, toolCallID, content string) {
	evt := &models.Event{
		ChatID:     chatID,
		Type:       models.EventTool,
		MessageID:  uuid.NewString(),
		Sender:     agent.ID,
		Role:       models.RoleTool,
		ToolCallID: toolCallID,
		Content:    content,
		Metadata: &models.EventMetadata{
			OwnerAgentIDs: []string{agent.ID},
			Direction:     models.DirectionSystem,
		},
	}
	if err := rt.PersistAndEmit(ctx, evt); err != nil {
		o.logger.Error("persist tool result failed",
			"agentId", agent.ID, "toolCallId", toolCallID, "error", err)
	}
}

// executeTool runs one server-side tool call with tool-start/tool-end
// SSE framing, stdout capture, and result persistence.
func (o *Orchestrator) executeTool(ctx context.Context, rt *world.Runtime, agent *models.Agent, chatID string, tc models.ToolCall) {
	rt.BeginActivity()
	defer rt.CompleteActivity()

	rt.EmitSSE(&models.StreamEvent{
		Type:             models.StreamToolStart,
		AgentName:        agent.ID,
		ToolName:         tc.Function.Name,
		ToolCallID:       tc.ID,
		Args:             tc.ArgsMap(),
		WorkingDirectory: rt.WorkingDirectory(),
	})

	capture := &captureRuntime{Runtime: rt, agentID: agent.ID, toolCallID: tc.ID}
	started := time.Now()
	result, err := rt.Tools().Execute(ctx, tc.Function.Name, &tools.Invocation{
		AgentID:    agent.ID,
		ToolCallID: tc.ID,
		Args:       json.RawMessage(tc.Function.Arguments),
		Runtime:    capture,
	})
	if err != nil {
		// Tool machinery failure; surface it to the model as an error
		// result so the loop can continue.
		payload, _ := json.Marshal(map[string]string{"status": "error", "error": err.Error()})
		result = &tools.Result{Content: string(payload), IsError: true}
	}
	if o.metrics != nil {
		status := "completed"
		if result.IsError {
			status = "error"
		}
		o.metrics.ToolExecutions.WithLabelValues(tc.Function.Name, status).Inc()
		o.metrics.ToolDuration.WithLabelValues(tc.Function.Name).Observe(time.Since(started).Seconds())
	}

	exitCode, timedOut := parseShellOutcome(result.Content)
	rt.EmitSSE(&models.StreamEvent{
		Type:       models.StreamToolEnd,
		AgentName:  agent.ID,
		ToolName:   tc.Function.Name,
		ToolCallID: tc.ID,
		ExitCode:   exitCode,
		TimedOut:   timedOut,
	})

	o.persistToolResult(ctx, rt, agent, chatID, tc.ID, result.Content)
	capture.persistTranscript(ctx, o, chatID)
}

// parseShellOutcome extracts exit metadata from a structured result, if
// present.
func parseShellOutcome(content string) (exitCode *int, timedOut bool) {
	var outcome struct {
		ExitCode *int `json:"exit_code"`
		TimedOut bool `json:"timed_out"`
	}
	if err := json.Unmarshal([]byte(content), &outcome); err != nil {
		return nil, false
	}
	return outcome.ExitCode, outcome.TimedOut
}

package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agent-world/agent-world/internal/approval"
	"github.com/agent-world/agent-world/internal/bus"
	"github.com/agent-world/agent-world/internal/llm"
	"github.com/agent-world/agent-world/internal/observability"
	"github.com/agent-world/agent-world/internal/store"
	"github.com/agent-world/agent-world/internal/tools"
	"github.com/agent-world/agent-world/internal/world"
	"github.com/agent-world/agent-world/pkg/models"
)

// scriptStep is one scripted LLM completion.
type scriptStep struct {
	text      string
	toolCalls []models.ToolCall
	err       error
}

// scriptedProvider replays a fixed sequence of completions.
type scriptedProvider struct {
	mu    sync.Mutex
	steps []scriptStep
	calls int
}

func (p *scriptedProvider) Name() string { return llm.ProviderAnthropic }

func (p *scriptedProvider) Complete(ctx context.Context, req *llm.Request) (<-chan *llm.Chunk, error) {
	p.mu.Lock()
	p.calls++
	step := scriptStep{text: "done"}
	if len(p.steps) > 0 {
		step = p.steps[0]
		p.steps = p.steps[1:]
	}
	p.mu.Unlock()

	if step.err != nil {
		return nil, step.err
	}
	out := make(chan *llm.Chunk, len(step.toolCalls)+2)
	if step.text != "" {
		out <- &llm.Chunk{Text: step.text}
	}
	for i := range step.toolCalls {
		out <- &llm.Chunk{ToolCall: &step.toolCalls[i]}
	}
	out <- &llm.Chunk{Done: true, Usage: &models.Usage{InputTokens: 5, OutputTokens: 3}}
	close(out)
	return out, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// dangerTool is an approval-gated test tool.
type dangerTool struct {
	mu   sync.Mutex
	runs int
}

func (d *dangerTool) Name() string            { return "danger_tool" }
func (d *dangerTool) Description() string     { return "does something gated" }
func (d *dangerTool) RequiresApproval() bool  { return true }
func (d *dangerTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (d *dangerTool) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	d.mu.Lock()
	d.runs++
	d.mu.Unlock()
	return &tools.Result{Content: `{"status":"completed"}`}, nil
}

func (d *dangerTool) runCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs
}

// echoTool runs without an approval gate.
type echoTool struct{}

func (echoTool) Name() string            { return "echo_tool" }
func (echoTool) Description() string     { return "echoes back" }
func (echoTool) RequiresApproval() bool  { return false }
func (echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	return &tools.Result{Content: `{"echo":"ok"}`}, nil
}

type fixture struct {
	rt       *world.Runtime
	st       store.Store
	orch     *Orchestrator
	provider *scriptedProvider
}

func setup(t *testing.T, turnLimit int, agents ...*models.Agent) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	w := &models.World{
		ID:              "w1",
		Name:            "W",
		TurnLimit:       turnLimit,
		CurrentChatID:   "chat-1",
		ChatLLMProvider: llm.ProviderAnthropic,
		ChatLLMModel:    "claude-sonnet-4-20250514",
	}
	if err := st.CreateWorld(ctx, w); err != nil {
		t.Fatal(err)
	}
	for _, agent := range agents {
		if err := st.SaveAgent(ctx, w.ID, agent); err != nil {
			t.Fatal(err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, err := world.NewRuntime(ctx, w, st, logger, world.Options{HITLTimeout: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rt.Close)

	provider := &scriptedProvider{}
	providers := llm.NewRegistry()
	providers.Register(provider)

	orch := New(providers, logger)
	unsub := orch.Attach(ctx, rt)
	t.Cleanup(unsub)

	return &fixture{rt: rt, st: st, orch: orch, provider: provider}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *fixture) storedEvents(t *testing.T, types ...models.EventType) []*models.Event {
	t.Helper()
	events, err := f.st.GetEvents(context.Background(), "w1", store.EventQuery{Types: types})
	if err != nil {
		t.Fatal(err)
	}
	return events
}

func assistantMessages(events []*models.Event) []*models.Event {
	var out []*models.Event
	for _, evt := range events {
		if evt.Role == models.RoleAssistant && !strings.HasSuffix(evt.MessageID, "-stdout") {
			out = append(out, evt)
		}
	}
	return out
}

func TestBroadcastAllAgentsRespond(t *testing.T) {
	f := setup(t, 5,
		&models.Agent{ID: "a1", Name: "a1", AutoReply: true},
		&models.Agent{ID: "a2", Name: "a2", AutoReply: true},
		&models.Agent{ID: "a3", Name: "a3", AutoReply: true},
	)

	if _, err := f.rt.PublishMessage(context.Background(), "hi", "human", world.PublishOptions{}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "three assistant replies", func() bool {
		return len(assistantMessages(f.storedEvents(t, models.EventMessage))) >= 3
	})
	senders := map[string]bool{}
	for _, evt := range assistantMessages(f.storedEvents(t, models.EventMessage)) {
		senders[evt.Sender] = true
	}
	for _, id := range []string{"a1", "a2", "a3"} {
		if !senders[id] {
			t.Errorf("agent %s did not reply", id)
		}
	}
}

func TestMentionRoutesToOneAgent(t *testing.T) {
	f := setup(t, 5,
		&models.Agent{ID: "a1", Name: "a1", AutoReply: true},
		&models.Agent{ID: "a2", Name: "a2", AutoReply: true},
	)

	var mu sync.Mutex
	memoryOnly := map[string]bool{}
	f.rt.Emitter().Subscribe(bus.ChannelSSE, func(payload any) {
		if ev := payload.(*models.StreamEvent); ev.Type == models.StreamMemoryOnly {
			mu.Lock()
			memoryOnly[ev.AgentName] = true
			mu.Unlock()
		}
	})

	if _, err := f.rt.PublishMessage(context.Background(), "@a1 hi", "human", world.PublishOptions{}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "a1 reply", func() bool {
		replies := assistantMessages(f.storedEvents(t, models.EventMessage))
		return len(replies) == 1 && replies[0].Sender == "a1"
	})
	waitFor(t, "a2 memory-only event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return memoryOnly["a2"]
	})
	if f.rt.CallCount("chat-1", "a2") != 0 {
		t.Error("a2 made an LLM call on a mention of a1")
	}
}

func TestTurnLimitPublishesSystemNotice(t *testing.T) {
	f := setup(t, 1, &models.Agent{ID: "a1", Name: "a1", AutoReply: true})

	ctx := context.Background()
	if _, err := f.rt.PublishMessage(ctx, "@a1 x", "human", world.PublishOptions{}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first reply", func() bool {
		return f.rt.CallCount("chat-1", "a1") == 1
	})

	if _, err := f.rt.PublishMessage(ctx, "@a1 x", "human", world.PublishOptions{MessageID: "m2"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "turn limit notice", func() bool {
		for _, evt := range f.storedEvents(t, models.EventSystem) {
			if evt.Content == "agent 'a1' has reached turn limit 1" {
				return true
			}
		}
		return false
	})
	if got := f.rt.CallCount("chat-1", "a1"); got != 1 {
		t.Errorf("call count = %d, want 1", got)
	}
}

func TestApprovalOnceFlow(t *testing.T) {
	f := setup(t, 5, &models.Agent{ID: "a1", Name: "a1", AutoReply: true})
	danger := &dangerTool{}
	f.rt.Tools().Register(danger)
	f.provider.steps = []scriptStep{
		{text: "running it", toolCalls: []models.ToolCall{
			models.NewToolCall("call_1", "danger_tool", map[string]any{}),
		}},
		{text: "all done"},
	}

	ctx := context.Background()
	if _, err := f.rt.PublishMessage(ctx, "@a1 run it", "human", world.PublishOptions{}); err != nil {
		t.Fatal(err)
	}

	// The turn pauses with a synthetic approval request appended to the
	// assistant's tool calls; the gated tool has not run.
	var syntheticID string
	waitFor(t, "approval request", func() bool {
		for _, evt := range assistantMessages(f.storedEvents(t, models.EventMessage)) {
			for _, tc := range evt.ToolCalls {
				if tc.Function.Name == approval.RequestToolName {
					syntheticID = tc.ID
					return true
				}
			}
		}
		return false
	})
	if danger.runCount() != 0 {
		t.Fatal("tool ran before approval")
	}

	// The client answers approve/once for the synthetic call.
	payload, _ := json.Marshal(map[string]any{
		"__type":   "tool_result",
		"decision": approval.DecisionApprove,
		"scope":    approval.ScopeOnce,
		"toolName": "danger_tool",
	})
	decision := &models.Event{
		ChatID:     "chat-1",
		Type:       models.EventTool,
		Sender:     "human",
		Role:       models.RoleTool,
		ToolCallID: syntheticID,
		Content:    string(payload),
		Metadata: &models.EventMetadata{
			OwnerAgentIDs: []string{"a1"},
			Direction:     models.DirectionSystem,
		},
	}
	if err := f.rt.PersistAndEmit(ctx, decision); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "tool execution", func() bool { return danger.runCount() == 1 })
	waitFor(t, "continuation reply", func() bool {
		for _, evt := range assistantMessages(f.storedEvents(t, models.EventMessage)) {
			if evt.Content == "all done" {
				return true
			}
		}
		return false
	})

	// The original call's result row exists.
	found := false
	for _, evt := range f.storedEvents(t, models.EventTool) {
		if evt.ToolCallID == "call_1" && strings.Contains(evt.Content, "completed") {
			found = true
		}
	}
	if !found {
		t.Error("tool result for call_1 not persisted")
	}
}

func TestUnansweredApprovalDeniesAfterTimeout(t *testing.T) {
	f := setup(t, 5, &models.Agent{ID: "a1", Name: "a1", AutoReply: true})
	f.orch.approvalTimeout = 50 * time.Millisecond
	danger := &dangerTool{}
	f.rt.Tools().Register(danger)
	f.provider.steps = []scriptStep{
		{text: "running it", toolCalls: []models.ToolCall{
			models.NewToolCall("call_1", "danger_tool", map[string]any{}),
		}},
		{text: "all done"},
	}

	if _, err := f.rt.PublishMessage(context.Background(), "@a1 run it", "human", world.PublishOptions{}); err != nil {
		t.Fatal(err)
	}

	// Nobody answers. The request expires and the call resolves as a
	// deny, and the turn still continues.
	waitFor(t, "denial result for call_1", func() bool {
		for _, evt := range f.storedEvents(t, models.EventTool) {
			if evt.ToolCallID == "call_1" && strings.Contains(evt.Content, "denied") {
				return true
			}
		}
		return false
	})
	waitFor(t, "continuation reply", func() bool {
		for _, evt := range assistantMessages(f.storedEvents(t, models.EventMessage)) {
			if evt.Content == "all done" {
				return true
			}
		}
		return false
	})
	if danger.runCount() != 0 {
		t.Error("gated tool ran without approval")
	}
}

func TestMetricsTrackLLMAndToolActivity(t *testing.T) {
	f := setup(t, 5, &models.Agent{ID: "a1", Name: "a1", AutoReply: true})
	metrics := observability.NewMetrics()
	f.orch.SetMetrics(metrics)
	f.rt.Tools().Register(echoTool{})
	f.provider.steps = []scriptStep{
		{text: "checking", toolCalls: []models.ToolCall{
			models.NewToolCall("call_1", "echo_tool", map[string]any{}),
		}},
		{text: "all done"},
	}

	if _, err := f.rt.PublishMessage(context.Background(), "@a1 go", "human", world.PublishOptions{}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "continuation reply", func() bool {
		for _, evt := range assistantMessages(f.storedEvents(t, models.EventMessage)) {
			if evt.Content == "all done" {
				return true
			}
		}
		return false
	})

	const model = "claude-sonnet-4-20250514"
	if got := testutil.ToFloat64(metrics.LLMCalls.WithLabelValues(llm.ProviderAnthropic, model, "success")); got != 2 {
		t.Errorf("successful llm calls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.LLMTokens.WithLabelValues(llm.ProviderAnthropic, model, "input")); got != 10 {
		t.Errorf("input tokens = %v, want 10", got)
	}
	if got := testutil.ToFloat64(metrics.LLMTokens.WithLabelValues(llm.ProviderAnthropic, model, "output")); got != 6 {
		t.Errorf("output tokens = %v, want 6", got)
	}
	if got := testutil.ToFloat64(metrics.ToolExecutions.WithLabelValues("echo_tool", "completed")); got != 1 {
		t.Errorf("tool executions = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(metrics.ToolDuration); got != 1 {
		t.Errorf("tool duration series = %d, want 1", got)
	}
}

func TestProviderErrorDoesNotCountTurn(t *testing.T) {
	f := setup(t, 5, &models.Agent{ID: "a1", Name: "a1", AutoReply: true})
	f.provider.steps = []scriptStep{{err: context.DeadlineExceeded}}

	var mu sync.Mutex
	var errs int
	f.rt.Emitter().Subscribe(bus.ChannelSSE, func(payload any) {
		if payload.(*models.StreamEvent).Type == models.StreamError {
			mu.Lock()
			errs++
			mu.Unlock()
		}
	})

	if _, err := f.rt.PublishMessage(context.Background(), "@a1 x", "human", world.PublishOptions{}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "error event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errs == 1
	})
	if got := f.rt.CallCount("chat-1", "a1"); got != 0 {
		t.Errorf("call count = %d after transport failure, want 0", got)
	}
}

func TestStreamChunksConcatenateToFinal(t *testing.T) {
	f := setup(t, 5, &models.Agent{ID: "a1", Name: "a1", AutoReply: true})
	f.provider.steps = []scriptStep{{text: "hello world"}}

	var mu sync.Mutex
	chunks := map[string]string{}
	finals := map[string]string{}
	f.rt.Emitter().Subscribe(bus.ChannelSSE, func(payload any) {
		ev := payload.(*models.StreamEvent)
		mu.Lock()
		switch ev.Type {
		case models.StreamChunk:
			chunks[ev.MessageID] += ev.Content
		case models.StreamEnd:
			finals[ev.MessageID] = ev.Content
		}
		mu.Unlock()
	})

	if _, err := f.rt.PublishMessage(context.Background(), "@a1 hi", "human", world.PublishOptions{}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "stream end", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(finals) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	for id, final := range finals {
		if chunks[id] != final {
			t.Errorf("chunks %q != final %q", chunks[id], final)
		}
		if final != "hello world" {
			t.Errorf("final = %q", final)
		}
	}
}

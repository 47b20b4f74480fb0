package world

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/agent-world/agent-world/internal/bus"
	"github.com/agent-world/agent-world/internal/store"
	"github.com/agent-world/agent-world/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRuntime(t *testing.T, agents ...*models.Agent) (*Runtime, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	w := &models.World{
		ID:              "w1",
		Name:            "Test World",
		CurrentChatID:   "chat-1",
		ChatLLMProvider: "anthropic",
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

	r, err := NewRuntime(ctx, w, st, testLogger(), Options{HITLTimeout: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Close)
	return r, st
}

func TestPublishMessageStampsAndPersists(t *testing.T) {
	a1 := &models.Agent{ID: "a1", Name: "a1", AutoReply: true}
	a2 := &models.Agent{ID: "a2", Name: "a2", AutoReply: true}
	r, st := testRuntime(t, a1, a2)

	var mu sync.Mutex
	var emitted []*models.Event
	done := make(chan struct{}, 1)
	r.Emitter().Subscribe(bus.ChannelMessage, func(payload any) {
		mu.Lock()
		emitted = append(emitted, payload.(*models.Event))
		mu.Unlock()
		done <- struct{}{}
	})

	evt, err := r.PublishMessage(context.Background(), "@a1 run the tests", "human", PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if evt.Seq == 0 {
		t.Error("event not assigned a seq before emission")
	}
	if evt.ChatID != "chat-1" {
		t.Errorf("chatId = %q", evt.ChatID)
	}
	meta := evt.Metadata
	if meta.RecipientAgentID != "a1" {
		t.Errorf("recipient = %q", meta.RecipientAgentID)
	}
	if meta.Direction != models.DirectionHumanToAgent {
		t.Errorf("direction = %q", meta.Direction)
	}
	if len(meta.OwnerAgentIDs) == 0 || meta.OwnerAgentIDs[0] != "a1" {
		t.Errorf("owners = %v", meta.OwnerAgentIDs)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("message not emitted")
	}

	stored, err := st.GetEvents(context.Background(), "w1", store.EventQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored %d events", len(stored))
	}

	if mem := r.Memory().ForAgent("a1", "chat-1"); len(mem) != 1 {
		t.Errorf("a1 memory = %d events", len(mem))
	}
}

func TestPublishMessageIdempotent(t *testing.T) {
	a1 := &models.Agent{ID: "a1", Name: "a1", AutoReply: true}
	r, st := testRuntime(t, a1)

	opts := PublishOptions{MessageID: "m1"}
	if _, err := r.PublishMessage(context.Background(), "hello", "human", opts); err != nil {
		t.Fatal(err)
	}
	if _, err := r.PublishMessage(context.Background(), "hello", "human", opts); err != nil {
		t.Fatal(err)
	}

	stored, err := st.GetEvents(context.Background(), "w1", store.EventQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Errorf("stored %d events, want 1 (idempotent replay)", len(stored))
	}
	if mem := r.Memory().ForAgent("a1", "chat-1"); len(mem) != 1 {
		t.Errorf("a1 memory = %d events, want 1", len(mem))
	}
}

func TestReplayedMessageNotReEmitted(t *testing.T) {
	a1 := &models.Agent{ID: "a1", Name: "a1", AutoReply: true}
	r, _ := testRuntime(t, a1)

	var mu sync.Mutex
	emits := 0
	r.Emitter().Subscribe(bus.ChannelMessage, func(any) {
		mu.Lock()
		emits++
		mu.Unlock()
	})

	opts := PublishOptions{MessageID: "m1"}
	first, err := r.PublishMessage(context.Background(), "hello", "human", opts)
	if err != nil {
		t.Fatal(err)
	}
	replay, err := r.PublishMessage(context.Background(), "hello", "human", opts)
	if err != nil {
		t.Fatal(err)
	}
	if replay.Seq != first.Seq {
		t.Errorf("replay seq = %d, want stored seq %d", replay.Seq, first.Seq)
	}
	if replay.Content != first.Content {
		t.Errorf("replay content = %q", replay.Content)
	}

	// Delivery is asynchronous; give the drain goroutine time to run.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if emits != 1 {
		t.Errorf("emitted %d times, want 1: a replayed messageId must not re-trigger turns", emits)
	}
}

func TestAgentSenderDirectionFollowsRecipient(t *testing.T) {
	a1 := &models.Agent{ID: "a1", Name: "a1", AutoReply: true}
	a2 := &models.Agent{ID: "a2", Name: "a2", AutoReply: true}
	r, _ := testRuntime(t, a1, a2)

	broadcast, err := r.PublishMessage(context.Background(), "status update for everyone", "a1", PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if broadcast.Metadata.Direction != models.DirectionAgentToHuman {
		t.Errorf("broadcast direction = %q, want %q", broadcast.Metadata.Direction, models.DirectionAgentToHuman)
	}
	if broadcast.Metadata.IsCrossAgent {
		t.Error("broadcast without an agent recipient stamped cross-agent")
	}

	mention, err := r.PublishMessage(context.Background(), "@a2 take over", "a1", PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if mention.Metadata.Direction != models.DirectionAgentToAgent {
		t.Errorf("mention direction = %q, want %q", mention.Metadata.Direction, models.DirectionAgentToAgent)
	}
	if !mention.Metadata.IsCrossAgent || mention.Metadata.RecipientAgentID != "a2" {
		t.Errorf("mention metadata = %+v", mention.Metadata)
	}

	selfMention, err := r.PublishMessage(context.Background(), "@a1 note to self", "a1", PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if selfMention.Metadata.Direction != models.DirectionAgentToHuman {
		t.Errorf("self-mention direction = %q, want %q", selfMention.Metadata.Direction, models.DirectionAgentToHuman)
	}
}

func TestCallCountsSurviveReload(t *testing.T) {
	a1 := &models.Agent{ID: "a1", Name: "a1", AutoReply: true}
	r, st := testRuntime(t, a1)

	r.IncrementCallCount("chat-1", "a1")
	r.IncrementCallCount("chat-1", "a1")
	if got := r.CallCount("chat-1", "a1"); got != 2 {
		t.Fatalf("count = %d", got)
	}

	// Persist the assistant replies the counts represent, then reload.
	ctx := context.Background()
	for _, id := range []string{"r1", "r2"} {
		err := st.SaveEvent(ctx, &models.Event{
			WorldID:   "w1",
			ChatID:    "chat-1",
			Type:      models.EventMessage,
			MessageID: id,
			Sender:    "a1",
			Role:      models.RoleAssistant,
			Content:   "done",
			Metadata:  &models.EventMetadata{OwnerAgentIDs: []string{"a1"}, Direction: models.DirectionAgentToHuman},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	w := r.World()
	reloaded, err := NewRuntime(ctx, w, st, testLogger(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()
	if got := reloaded.CallCount("chat-1", "a1"); got != 2 {
		t.Errorf("reloaded count = %d, want 2", got)
	}
}

func TestCreateAgentRejectsDuplicate(t *testing.T) {
	a1 := &models.Agent{ID: "a1", Name: "a1"}
	r, _ := testRuntime(t, a1)

	if _, err := r.CreateAgent(context.Background(), &models.Agent{ID: "a1", Name: "a1"}); err == nil {
		t.Error("duplicate agent accepted")
	}
	created, err := r.CreateAgent(context.Background(), &models.Agent{ID: "a2", Name: "a2"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Agent(created.ID); !ok {
		t.Error("created agent not registered")
	}
}

func TestCloseCancelsPendingHITL(t *testing.T) {
	r, _ := testRuntime(t)

	_, choice := r.EnqueueHITL("Continue?", []string{"yes", "no"}, nil)
	r.Close()

	select {
	case _, ok := <-choice:
		if ok {
			t.Error("closed world delivered a choice")
		}
	case <-time.After(time.Second):
		t.Fatal("pending request not cancelled on close")
	}

	if _, err := r.PublishMessage(context.Background(), "hi", "human", PublishOptions{}); err == nil {
		t.Error("closed world accepted a publish")
	}
}

func TestResolveHITLRefresh(t *testing.T) {
	r, _ := testRuntime(t)

	var mu sync.Mutex
	var refreshes int
	r.Emitter().Subscribe(bus.ChannelSSE, func(payload any) {
		ev := payload.(*models.StreamEvent)
		mu.Lock()
		if ev.Category == "crud" {
			refreshes++
		}
		mu.Unlock()
	})

	id, choice := r.EnqueueHITL("created agent", []string{"dismiss"},
		map[string]any{"refreshAfterDismiss": true})
	if err := r.ResolveHITL(context.Background(), id, "dismiss"); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-choice:
		if got != "dismiss" {
			t.Errorf("choice = %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("choice not delivered")
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := refreshes
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("refresh events = %d, want 1", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestActivityCounter(t *testing.T) {
	r, _ := testRuntime(t)

	changed := r.ActivityChanged()
	r.BeginActivity()
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken on begin")
	}
	if count, _ := r.Activity(); count != 1 {
		t.Errorf("count = %d", count)
	}

	r.CompleteActivity()
	if count, _ := r.Activity(); count != 0 {
		t.Errorf("count after complete = %d", count)
	}
	// Completing an already-zero counter never goes negative.
	r.CompleteActivity()
	if count, _ := r.Activity(); count != 0 {
		t.Errorf("count after extra complete = %d", count)
	}
}

func TestRegistryActiveSubscribed(t *testing.T) {
	r, _ := testRuntime(t)
	reg := NewRegistry()
	reg.Put(r)

	if _, ok := reg.GetActiveSubscribed("w1"); ok {
		t.Error("world with no subscribers reported active")
	}

	unsub := r.Emitter().Subscribe(bus.ChannelSSE, func(any) {})
	if _, ok := reg.GetActiveSubscribed("w1"); !ok {
		t.Error("subscribed world not reported active")
	}
	unsub()
	if _, ok := reg.GetActiveSubscribed("w1"); ok {
		t.Error("unsubscribed world still reported active")
	}

	reg.Remove("w1")
	if _, ok := reg.Get("w1"); ok {
		t.Error("removed world still registered")
	}
}

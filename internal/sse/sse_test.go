package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agent-world/agent-world/internal/store"
	"github.com/agent-world/agent-world/internal/world"
	"github.com/agent-world/agent-world/pkg/models"
)

// fakeActivity is a scriptable ActivitySource.
type fakeActivity struct {
	mu      sync.Mutex
	count   int
	last    time.Time
	waiters []chan struct{}
}

func (f *fakeActivity) set(count int) {
	f.mu.Lock()
	f.count = count
	f.last = time.Now()
	for _, ch := range f.waiters {
		close(ch)
	}
	f.waiters = nil
	f.mu.Unlock()
}

func (f *fakeActivity) Activity() (int, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.last
}

func (f *fakeActivity) ActivityChanged() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.waiters = append(f.waiters, ch)
	return ch
}

func TestWriteFrameSingleLine(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, &models.StreamEvent{
		Type:      models.StreamChunk,
		AgentName: "a1",
		Content:   "hello\nworld",
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "data: ") || !strings.HasSuffix(out, "\n\n") {
		t.Fatalf("frame = %q", out)
	}
	// JSON escaping keeps the payload on one line.
	if strings.Count(strings.TrimSuffix(out, "\n\n"), "\n") != 0 {
		t.Errorf("payload spans multiple lines: %q", out)
	}
}

func TestIdleWaiterResolvesAfterGrace(t *testing.T) {
	activity := &fakeActivity{}
	activity.set(0)
	waiter := NewIdleWaiter(5*time.Second, 30*time.Millisecond)

	start := time.Now()
	waiter.Wait(context.Background(), activity)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("idle wait took %s", elapsed)
	}
}

func TestIdleWaiterWaitsForInFlightWork(t *testing.T) {
	activity := &fakeActivity{}
	activity.set(1)
	waiter := NewIdleWaiter(5*time.Second, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		waiter.Wait(context.Background(), activity)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("waiter resolved while work was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	activity.set(0)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not resolve after activity hit zero")
	}
}

func TestIdleWaiterMainTimeout(t *testing.T) {
	activity := &fakeActivity{}
	activity.set(1) // never completes
	waiter := NewIdleWaiter(50*time.Millisecond, 10*time.Millisecond)

	start := time.Now()
	waiter.Wait(context.Background(), activity)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("main timeout not enforced, waited %s", elapsed)
	}
}

func TestServeStreamsEventsUntilIdle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	defer st.Close()
	w := &models.World{ID: "w1", Name: "W", CurrentChatID: "chat-1"}
	if err := st.CreateWorld(ctx, w); err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, err := world.NewRuntime(ctx, w, st, logger, world.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/worlds/w1/stream", nil)

	served := make(chan error, 1)
	go func() {
		served <- NewStreamer(logger).Serve(rec, req, rt, Options{
			IdleTimeout: 2 * time.Second,
			Grace:       50 * time.Millisecond,
		})
	}()

	// Simulate one short agent turn.
	rt.BeginActivity()
	time.Sleep(10 * time.Millisecond)
	rt.EmitSSE(&models.StreamEvent{Type: models.StreamStart, AgentName: "a1", MessageID: "m1"})
	rt.EmitSSE(&models.StreamEvent{Type: models.StreamChunk, AgentName: "a1", MessageID: "m1", Content: "hi"})
	rt.EmitSSE(&models.StreamEvent{Type: models.StreamEnd, AgentName: "a1", MessageID: "m1", Content: "hi"})
	rt.CompleteActivity()

	select {
	case err := <-served:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not complete after idle")
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	var types []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev models.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		types = append(types, string(ev.Type))
	}
	want := []string{"start", "chunk", "end"}
	if len(types) != len(want) {
		t.Fatalf("frame types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, types[i], want[i])
		}
	}
}

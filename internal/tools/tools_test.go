package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/agent-world/agent-world/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRuntime implements Runtime for tool tests.
type fakeRuntime struct {
	mu         sync.Mutex
	workingDir string
	timeout    time.Duration
	provider   string
	model      string

	streamed  []*models.StreamEvent
	created   []*models.Agent
	createErr error

	hitlPrompts []string
	hitlOptions [][]string
	hitlMeta    []map[string]any
	hitlChoice  string
	hitlClose   bool
}

func newFakeRuntime(workingDir string) *fakeRuntime {
	return &fakeRuntime{
		workingDir: workingDir,
		timeout:    5 * time.Second,
		provider:   "anthropic",
		model:      "claude-sonnet-4-20250514",
	}
}

func (f *fakeRuntime) WorldID() string              { return "w1" }
func (f *fakeRuntime) ChatID() string               { return "chat-1" }
func (f *fakeRuntime) WorkingDirectory() string     { return f.workingDir }
func (f *fakeRuntime) ShellTimeout() time.Duration  { return f.timeout }
func (f *fakeRuntime) DefaultProviderModel() (string, string) {
	return f.provider, f.model
}

func (f *fakeRuntime) CreateAgent(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, agent)
	return agent, nil
}

func (f *fakeRuntime) EnqueueHITL(prompt string, options []string, metadata map[string]any) (string, <-chan string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hitlPrompts = append(f.hitlPrompts, prompt)
	f.hitlOptions = append(f.hitlOptions, options)
	f.hitlMeta = append(f.hitlMeta, metadata)
	ch := make(chan string, 1)
	if f.hitlClose {
		close(ch)
	} else if f.hitlChoice != "" {
		ch <- f.hitlChoice
	}
	return "req-1", ch
}

func (f *fakeRuntime) EmitToolStream(ev *models.StreamEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamed = append(f.streamed, ev)
}

func (f *fakeRuntime) streamedLines(stream string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ev := range f.streamed {
		if ev.Stream == stream {
			out = append(out, ev.Content)
		}
	}
	return out
}

func rawArgs(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

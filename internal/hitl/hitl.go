// Package hitl tracks pending human-in-the-loop requests for one world.
// Requests wait for a client response and fall back to their first
// option on timeout so a turn never hangs past the configured bound.
package hitl

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout resolves unanswered requests with their default option.
const DefaultTimeout = 300 * time.Second

// Request is one pending human decision.
type Request struct {
	ID        string         `json:"requestId"`
	Prompt    string         `json:"prompt"`
	Options   []string       `json:"options"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`

	choice chan string
	timer  *time.Timer
}

// RefreshAfterDismiss reports whether resolving this request should
// trigger a client-side reload of world state.
func (r *Request) RefreshAfterDismiss() bool {
	refresh, _ := r.Metadata["refreshAfterDismiss"].(bool)
	return refresh
}

// Table is the mutex-guarded pending-request registry of one world.
type Table struct {
	mu      sync.Mutex
	pending map[string]*Request
	timeout time.Duration
	logger  *slog.Logger
}

// NewTable creates a table; a zero timeout uses DefaultTimeout.
func NewTable(timeout time.Duration, logger *slog.Logger) *Table {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		pending: make(map[string]*Request),
		timeout: timeout,
		logger:  logger.With("component", "hitl"),
	}
}

// Enqueue registers a request and returns it with the channel that
// delivers the chosen option. If nobody answers within the timeout the
// request resolves with its first option.
func (t *Table) Enqueue(prompt string, options []string, metadata map[string]any) (*Request, <-chan string) {
	req := &Request{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Options:   append([]string(nil), options...),
		Metadata:  metadata,
		CreatedAt: time.Now(),
		choice:    make(chan string, 1),
	}

	t.mu.Lock()
	t.pending[req.ID] = req
	t.mu.Unlock()

	req.timer = time.AfterFunc(t.timeout, func() {
		if len(req.Options) == 0 {
			return
		}
		if _, err := t.Resolve(req.ID, req.Options[0]); err == nil {
			t.logger.Warn("request timed out, using default option",
				"requestId", req.ID, "choice", req.Options[0])
		}
	})

	return req, req.choice
}

// Resolve answers a pending request with choice and returns it so the
// caller can act on its metadata. The choice must be one of the
// request's options.
func (t *Table) Resolve(requestID, choice string) (*Request, error) {
	t.mu.Lock()
	req, ok := t.pending[requestID]
	if ok {
		delete(t.pending, requestID)
	}
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no pending request %q", requestID)
	}

	valid := false
	for _, opt := range req.Options {
		if opt == choice {
			valid = true
			break
		}
	}
	if !valid {
		// Put it back; the client sent a choice that was never offered.
		t.mu.Lock()
		t.pending[requestID] = req
		t.mu.Unlock()
		return nil, fmt.Errorf("choice %q not offered by request %q", choice, requestID)
	}

	if req.timer != nil {
		req.timer.Stop()
	}
	req.choice <- choice
	close(req.choice)
	return req, nil
}

// Get returns a pending request by id.
func (t *Table) Get(requestID string) (*Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.pending[requestID]
	return req, ok
}

// List returns the pending requests, oldest first.
func (t *Table) List() []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Request, 0, len(t.pending))
	for _, req := range t.pending {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CancelAll dismisses every pending request without a choice. Used when
// the owning chat or world is deleted.
func (t *Table) CancelAll() {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]*Request)
	t.mu.Unlock()

	for _, req := range pending {
		if req.timer != nil {
			req.timer.Stop()
		}
		close(req.choice)
	}
}

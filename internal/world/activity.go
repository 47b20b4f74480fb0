package world

import (
	"sync"
	"time"
)

// activityCounter tracks in-flight work (agent turns, tool executions)
// for SSE idle detection. Bare message publishing never touches it;
// only actual work does. Waiters are woken on every change so the SSE
// layer can re-evaluate its idle condition.
type activityCounter struct {
	mu      sync.Mutex
	count   int
	last    time.Time
	waiters []chan struct{}
}

func (a *activityCounter) begin() {
	a.mu.Lock()
	a.count++
	a.last = time.Now()
	a.wakeLocked()
	a.mu.Unlock()
}

func (a *activityCounter) complete() {
	a.mu.Lock()
	if a.count > 0 {
		a.count--
	}
	a.last = time.Now()
	a.wakeLocked()
	a.mu.Unlock()
}

// touch records activity without changing the in-flight count (stream
// chunks, tool output lines).
func (a *activityCounter) touch() {
	a.mu.Lock()
	a.last = time.Now()
	a.wakeLocked()
	a.mu.Unlock()
}

func (a *activityCounter) snapshot() (count int, last time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count, a.last
}

// changed returns a channel closed on the next counter change.
func (a *activityCounter) changed() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan struct{})
	a.waiters = append(a.waiters, ch)
	return ch
}

func (a *activityCounter) wakeLocked() {
	for _, ch := range a.waiters {
		close(ch)
	}
	a.waiters = nil
}

// BeginActivity marks the start of one unit of agent work.
func (r *Runtime) BeginActivity() {
	r.activity.begin()
}

// CompleteActivity marks the end of one unit of agent work.
func (r *Runtime) CompleteActivity() {
	r.activity.complete()
}

// TouchActivity extends the activity window without changing the
// in-flight count.
func (r *Runtime) TouchActivity() {
	r.activity.touch()
}

// Activity returns the in-flight work count and the last activity time.
func (r *Runtime) Activity() (int, time.Time) {
	return r.activity.snapshot()
}

// ActivityChanged returns a channel closed on the next activity change.
func (r *Runtime) ActivityChanged() <-chan struct{} {
	return r.activity.changed()
}

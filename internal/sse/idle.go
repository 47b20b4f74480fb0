// Package sse streams world events to clients over Server-Sent Events:
// single-line "data: " frames, per-connection buffering with slow-client
// drop, and idle detection driven by the world activity counter.
package sse

import (
	"context"
	"time"
)

// Default idle-detection windows.
const (
	// DefaultIdleTimeout ends a request that sees no qualifying
	// activity at all.
	DefaultIdleTimeout = 30 * time.Second

	// DefaultGrace is how long the world must stay quiet at activity
	// zero before the response completes.
	DefaultGrace = 2 * time.Second
)

// ActivitySource is the world-side view the waiter polls; implemented
// by the world runtime.
type ActivitySource interface {
	// Activity returns the in-flight work count and last activity time.
	Activity() (int, time.Time)

	// ActivityChanged returns a channel closed on the next change.
	ActivityChanged() <-chan struct{}
}

// IdleWaiter resolves when a world goes quiet: the activity counter is
// zero and nothing has happened for a grace period, or no qualifying
// activity arrived within the main timeout at all.
type IdleWaiter struct {
	timeout time.Duration
	grace   time.Duration
	touched chan struct{}
	start   time.Time
	last    time.Time
}

// NewIdleWaiter creates a waiter; zero durations use the defaults.
func NewIdleWaiter(timeout, grace time.Duration) *IdleWaiter {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	now := time.Now()
	return &IdleWaiter{
		timeout: timeout,
		grace:   grace,
		touched: make(chan struct{}, 1),
		start:   now,
		last:    now,
	}
}

// Touch extends the idle window. Called for every qualifying event:
// stream start/chunk/end, tool-start/stream/end.
func (iw *IdleWaiter) Touch() {
	select {
	case iw.touched <- struct{}{}:
	default:
	}
}

// Wait blocks until the world is idle, the main timeout elapses without
// activity, or ctx is cancelled.
func (iw *IdleWaiter) Wait(ctx context.Context, source ActivitySource) {
	for {
		count, lastActivity := source.Activity()
		now := time.Now()

		quiet := iw.last
		if lastActivity.After(quiet) {
			quiet = lastActivity
		}

		if count == 0 && now.Sub(quiet) >= iw.grace {
			return
		}
		if now.Sub(iw.last) >= iw.timeout {
			return
		}

		// Sleep until whichever deadline comes first, or wake early on
		// a touch or a counter change.
		next := iw.last.Add(iw.timeout).Sub(now)
		if count == 0 {
			if d := quiet.Add(iw.grace).Sub(now); d < next {
				next = d
			}
		}
		if next < time.Millisecond {
			next = time.Millisecond
		}

		changed := source.ActivityChanged()
		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-iw.touched:
			iw.last = time.Now()
		case <-changed:
		case <-timer.C:
		}
		timer.Stop()
	}
}

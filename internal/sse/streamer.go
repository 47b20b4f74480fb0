package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/agent-world/agent-world/internal/bus"
	"github.com/agent-world/agent-world/internal/world"
	"github.com/agent-world/agent-world/pkg/models"
)

// connBuffer bounds the per-connection write queue; a full buffer drops
// the connection rather than stalling the bus.
const connBuffer = 256

// WriteFrame serializes one payload as a single-line SSE data frame.
func WriteFrame(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// messageFrame wraps a stored event for the wire so clients can tell
// message rows apart from stream events.
type messageFrame struct {
	Type  string        `json:"type"`
	Event *models.Event `json:"event"`
}

// Options configure one streaming request.
type Options struct {
	// IdleTimeout and Grace tune idle detection; zero uses defaults.
	IdleTimeout time.Duration
	Grace       time.Duration

	// IncludeMessages forwards persisted message events alongside the
	// stream events.
	IncludeMessages bool
}

// Streamer serves SSE responses from world runtimes.
type Streamer struct {
	logger *slog.Logger
}

// NewStreamer creates a streamer.
func NewStreamer(logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{logger: logger.With("component", "sse")}
}

// qualifies reports whether an event type extends the idle window.
func qualifies(t models.StreamEventType) bool {
	switch t {
	case models.StreamStart, models.StreamChunk, models.StreamEnd,
		models.StreamToolStart, models.StreamToolStream, models.StreamToolEnd:
		return true
	}
	return false
}

// Serve subscribes the connection to the world's channels and writes
// frames until the world goes idle, the client disconnects, or the
// connection falls too far behind.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, rt *world.Runtime, opts Options) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	waiter := NewIdleWaiter(opts.IdleTimeout, opts.Grace)

	frames := make(chan any, connBuffer)
	dropped := make(chan struct{})
	enqueue := func(frame any) {
		select {
		case frames <- frame:
		default:
			// Slow client: drop the connection, not the bus.
			select {
			case <-dropped:
			default:
				close(dropped)
			}
		}
	}

	unsubSSE := rt.Emitter().Subscribe(bus.ChannelSSE, func(payload any) {
		ev, ok := payload.(*models.StreamEvent)
		if !ok {
			return
		}
		if qualifies(ev.Type) {
			waiter.Touch()
		}
		enqueue(ev)
	})
	defer unsubSSE()

	if opts.IncludeMessages {
		forward := func(payload any) {
			if evt, ok := payload.(*models.Event); ok {
				enqueue(&messageFrame{Type: "message", Event: evt})
			}
		}
		unsubMsg := rt.Emitter().Subscribe(bus.ChannelMessage, forward)
		defer unsubMsg()
		unsubSys := rt.Emitter().Subscribe(bus.ChannelSystem, forward)
		defer unsubSys()
	}

	idle := make(chan struct{})
	go func() {
		waiter.Wait(r.Context(), rt)
		close(idle)
	}()

	for {
		select {
		case <-r.Context().Done():
			return nil
		case <-dropped:
			s.logger.Warn("dropping slow sse client", "worldId", rt.WorldID())
			return nil
		case <-idle:
			// Drain whatever is already queued before completing.
			for {
				select {
				case frame := <-frames:
					if err := WriteFrame(w, frame); err != nil {
						return err
					}
				default:
					flusher.Flush()
					return nil
				}
			}
		case frame := <-frames:
			if err := WriteFrame(w, frame); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

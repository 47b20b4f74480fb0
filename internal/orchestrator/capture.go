package orchestrator

import (
	"context"
	"strings"
	"sync"

	"github.com/agent-world/agent-world/internal/world"
	"github.com/agent-world/agent-world/pkg/models"
)

// captureRuntime wraps the world runtime for one tool execution. It
// forwards everything, additionally mirroring stdout lines as chunk
// events keyed "<toolCallId>-stdout" and accumulating them so a
// finalized stdout-capture assistant message can be persisted for
// transport compatibility. The LLM never sees that message: the context
// filter drops "-stdout" message ids.
type captureRuntime struct {
	*world.Runtime
	agentID    string
	toolCallID string

	mu     sync.Mutex
	stdout []string
}

func (c *captureRuntime) EmitToolStream(ev *models.StreamEvent) {
	c.Runtime.EmitToolStream(ev)
	if ev.Stream != "stdout" {
		return
	}

	c.mu.Lock()
	c.stdout = append(c.stdout, ev.Content)
	c.mu.Unlock()

	c.Runtime.EmitSSE(&models.StreamEvent{
		Type:      models.StreamChunk,
		AgentName: c.agentID,
		MessageID: c.toolCallID + "-stdout",
		Sender:    c.agentID,
		Content:   ev.Content,
	})
}

// persistTranscript stores the captured stdout as an assistant message
// when the tool produced any.
func (c *captureRuntime) persistTranscript(ctx context.Context, o *Orchestrator, chatID string) {
	c.mu.Lock()
	lines := c.stdout
	c.stdout = nil
	c.mu.Unlock()
	if len(lines) == 0 {
		return
	}

	evt := &models.Event{
		ChatID:    chatID,
		Type:      models.EventMessage,
		MessageID: c.toolCallID + "-stdout",
		Sender:    c.agentID,
		Role:      models.RoleAssistant,
		Content:   strings.Join(lines, "\n"),
		Metadata: &models.EventMetadata{
			OwnerAgentIDs: []string{c.agentID},
			Direction:     models.DirectionAgentToHuman,
			IsMemoryOnly:  true,
		},
	}
	if err := c.Runtime.PersistAndEmit(ctx, evt); err != nil {
		o.logger.Warn("persist stdout capture failed",
			"toolCallId", c.toolCallID, "error", err)
	}
}

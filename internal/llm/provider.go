// Package llm defines the provider abstraction for chat completions and
// the concrete Anthropic, OpenAI, and Ollama backends. All providers
// stream: Complete returns a channel of chunks and the caller decides
// how to surface them.
package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/agent-world/agent-world/pkg/models"
)

// Provider is a chat completion backend.
type Provider interface {
	// Name returns the stable lowercase provider identifier.
	Name() string

	// Complete sends a request and returns a channel of response chunks.
	// The channel is closed when the stream ends. Transport errors that
	// occur after the call returns arrive as a chunk with Err set.
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)
}

// Request carries one completion call.
type Request struct {
	// Model is the provider model id. Empty selects the provider default.
	Model string

	// System is the system prompt, handled outside Messages.
	System string

	// Messages is the conversation in chronological order.
	Messages []Message

	// Tools are the tool definitions offered to the model.
	Tools []ToolDef

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int

	// Temperature is the sampling temperature. Zero means provider default.
	Temperature float64
}

// Message is one turn of conversation history.
type Message struct {
	// Role is "user", "assistant", "system", or "tool".
	Role string

	// Content is the message text.
	Content string

	// ToolCalls holds tool invocations on assistant messages.
	ToolCalls []models.ToolCall

	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string
}

// ToolDef describes a tool offered to the model.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Chunk is one unit of a streaming response.
type Chunk struct {
	// Text is a partial response fragment.
	Text string

	// ToolCall is a complete tool invocation, emitted once assembled.
	ToolCall *models.ToolCall

	// Done marks successful stream completion. Usage is set on this chunk
	// when the provider reports token counts.
	Done  bool
	Usage *models.Usage

	// Err terminates the stream.
	Err error
}

// defaultMaxTokens bounds responses when the request leaves MaxTokens
// unset.
const defaultMaxTokens = 4096

func (r *Request) maxTokens() int {
	if r.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return r.MaxTokens
}

// collapseStream drains a streaming channel and re-emits it as a single
// final text chunk followed by tool calls and the done marker. Used when
// the global streaming toggle is off.
func collapseStream(in <-chan *Chunk) <-chan *Chunk {
	out := make(chan *Chunk, 8)
	go func() {
		defer close(out)
		var text strings.Builder
		var toolCalls []*Chunk
		var usage *models.Usage
		for chunk := range in {
			switch {
			case chunk.Err != nil:
				out <- chunk
				return
			case chunk.ToolCall != nil:
				toolCalls = append(toolCalls, chunk)
			case chunk.Done:
				usage = chunk.Usage
			default:
				text.WriteString(chunk.Text)
			}
		}
		if text.Len() > 0 {
			out <- &Chunk{Text: text.String()}
		}
		for _, tc := range toolCalls {
			out <- tc
		}
		out <- &Chunk{Done: true, Usage: usage}
	}()
	return out
}

package models

// StreamEventType identifies an SSE wire event.
type StreamEventType string

const (
	StreamStart      StreamEventType = "start"
	StreamChunk      StreamEventType = "chunk"
	StreamEnd        StreamEventType = "end"
	StreamError      StreamEventType = "error"
	StreamToolStart  StreamEventType = "tool-start"
	StreamToolStream StreamEventType = "tool-stream"
	StreamToolEnd    StreamEventType = "tool-end"
	StreamMemoryOnly StreamEventType = "memory-only"
	StreamSystem     StreamEventType = "system"
)

// Usage reports token consumption for a completed LLM turn.
type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
}

// StreamEvent is the JSON payload of one SSE wire event. All events are a
// single line prefixed "data: " on the wire.
type StreamEvent struct {
	// AgentName is the emitting agent's id.
	AgentName string          `json:"agentName,omitempty"`
	Type      StreamEventType `json:"type"`
	MessageID string          `json:"messageId,omitempty"`

	Sender    string `json:"sender,omitempty"`
	WorldName string `json:"worldName,omitempty"`

	// Content is the text delta for chunk events and the final text for
	// end events.
	Content string `json:"content,omitempty"`

	// ToolCalls is set on the chunk carrying a tool-request boundary.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Tool fields (tool-start / tool-stream / tool-end, and stdout chunks).
	ToolName         string         `json:"toolName,omitempty"`
	ToolCallID       string         `json:"toolCallId,omitempty"`
	Args             map[string]any `json:"args,omitempty"`
	WorkingDirectory string         `json:"workingDirectory,omitempty"`
	Stream           string         `json:"stream,omitempty"` // stdout | stderr
	ExitCode         *int           `json:"exitCode,omitempty"`
	TimedOut         bool           `json:"timedOut,omitempty"`

	Usage *Usage `json:"usage,omitempty"`
	Error string `json:"error,omitempty"`

	// System fields.
	Level    string `json:"level,omitempty"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message,omitempty"`
}

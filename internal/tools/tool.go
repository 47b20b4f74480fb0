// Package tools implements the server-side tool layer: the registry with
// JSON Schema argument validation, the built-in shell_cmd, load_skill,
// create_agent, and hitl_request tools, and the MCP proxy for external
// tool servers.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agent-world/agent-world/pkg/models"
)

// Tool is an executable capability offered to agents.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description explains the tool to the model.
	Description() string

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// RequiresApproval reports whether calls must pass the human approval
	// flow before execution.
	RequiresApproval() bool

	// Execute runs the tool. Errors that the model should react to are
	// reported through Result.IsError; a non-nil error means the tool
	// machinery itself failed.
	Execute(ctx context.Context, inv *Invocation) (*Result, error)
}

// Invocation carries one tool call into Execute.
type Invocation struct {
	// AgentID is the calling agent.
	AgentID string

	// ToolCallID is the id of the originating tool call.
	ToolCallID string

	// Args is the raw JSON argument payload from the model.
	Args json.RawMessage

	// Runtime is the world-side surface the tool executes against.
	Runtime Runtime
}

// Result is the outcome of a tool execution.
type Result struct {
	// Content is the payload fed back to the model, usually JSON.
	Content string

	// IsError marks the result as an error condition.
	IsError bool
}

// Runtime is the world-side surface tools execute against. The world
// package implements it; tools stay free of world imports.
type Runtime interface {
	// WorldID returns the hosting world's id.
	WorldID() string

	// ChatID returns the current chat id.
	ChatID() string

	// WorkingDirectory returns the trusted working directory for shell
	// execution.
	WorkingDirectory() string

	// ShellTimeout returns the default shell command timeout.
	ShellTimeout() time.Duration

	// DefaultProviderModel returns the world's chat LLM defaults for
	// newly created agents.
	DefaultProviderModel() (provider, model string)

	// CreateAgent adds an agent to the world.
	CreateAgent(ctx context.Context, agent *models.Agent) (*models.Agent, error)

	// EnqueueHITL registers a pending human request and returns its id
	// together with a channel that delivers the chosen option. The
	// channel is closed without a value when the request is cancelled.
	EnqueueHITL(prompt string, options []string, metadata map[string]any) (requestID string, choice <-chan string)

	// EmitToolStream publishes a tool output stream event to clients.
	EmitToolStream(ev *models.StreamEvent)
}

// errorResult encodes message as a JSON error payload for the model.
func errorResult(message string) *Result {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return &Result{Content: string(payload), IsError: true}
}

// jsonResult marshals v for the model; marshal failures degrade to an
// error result.
func jsonResult(v any) *Result {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("encode result: " + err.Error())
	}
	return &Result{Content: string(payload)}
}

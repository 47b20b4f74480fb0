package models

import (
	"encoding/json"
	"strings"
)

// Role indicates the message author type in an LLM conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ClientToolPrefix marks tools the client must answer rather than the
// runtime executing them in-process (approvals, HITL prompts).
const ClientToolPrefix = "client."

// ToolCall represents an LLM request to execute a tool, embedded in
// assistant messages.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction carries the function name and raw JSON arguments.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// NewToolCall builds a function tool call with marshaled arguments.
func NewToolCall(id, name string, args any) ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}
	return ToolCall{
		ID:   id,
		Type: "function",
		Function: ToolFunction{
			Name:      name,
			Arguments: string(raw),
		},
	}
}

// IsClientSide reports whether the tool call must be answered by the client.
func (tc ToolCall) IsClientSide() bool {
	return strings.HasPrefix(tc.Function.Name, ClientToolPrefix)
}

// ArgsMap unmarshals the call arguments into a generic map.
// Returns an empty map when arguments are absent or malformed.
func (tc ToolCall) ArgsMap() map[string]any {
	out := map[string]any{}
	if tc.Function.Arguments == "" {
		return out
	}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &out); err != nil {
		return map[string]any{}
	}
	return out
}

// ToolResultPayload is the structured content of approval and HITL tool
// results, stored as JSON in the tool message's content field.
type ToolResultPayload struct {
	Type             string         `json:"__type"` // always "tool_result"
	Decision         string         `json:"decision,omitempty"`
	Scope            string         `json:"scope,omitempty"`
	ToolName         string         `json:"toolName,omitempty"`
	ToolArgs         map[string]any `json:"toolArgs,omitempty"`
	WorkingDirectory string         `json:"workingDirectory,omitempty"`
}

// ParseToolResultPayload decodes a tool message's content as a structured
// tool result. The second return is false when the content is not one.
func ParseToolResultPayload(content string) (*ToolResultPayload, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var payload ToolResultPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, false
	}
	if payload.Type != "tool_result" {
		return nil, false
	}
	return &payload, true
}

package models

import (
	"strings"
	"time"
	"unicode"
)

// Default limits applied when a world or agent leaves them unset.
const (
	DefaultTurnLimit      = 5
	DefaultShellTimeoutMS = 600_000
)

// WorkingDirectoryVariable is the world variable naming the trusted
// working directory for shell tool execution.
const WorkingDirectoryVariable = "working_directory"

// World is the container for agents, chats, and events.
type World struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// TurnLimit caps LLM calls per agent per chat (default 5).
	TurnLimit int `json:"turnLimit"`

	// ChatLLMProvider and ChatLLMModel are the defaults inherited by
	// newly created agents.
	ChatLLMProvider string `json:"chatLLMProvider,omitempty"`
	ChatLLMModel    string `json:"chatLLMModel,omitempty"`

	// CurrentChatID scopes agent responses; messages in other chats are
	// not answered.
	CurrentChatID string `json:"currentChatId,omitempty"`

	// Variables is env-text configuration (working_directory and others).
	Variables map[string]string `json:"variables,omitempty"`

	// MCPConfig lists external tool sources.
	MCPConfig []MCPServerConfig `json:"mcpConfig,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WorkingDirectory returns the trusted working directory, defaulting to "./".
func (w *World) WorkingDirectory() string {
	if w.Variables != nil {
		if dir := strings.TrimSpace(w.Variables[WorkingDirectoryVariable]); dir != "" {
			return dir
		}
	}
	return "./"
}

// EffectiveTurnLimit returns the world turn limit, falling back to the default.
func (w *World) EffectiveTurnLimit() int {
	if w.TurnLimit > 0 {
		return w.TurnLimit
	}
	return DefaultTurnLimit
}

// Agent is a named LLM-backed participant in a world.
type Agent struct {
	// ID is the slug of the name, lowercase.
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type,omitempty"`
	Provider     string  `json:"provider,omitempty"`
	Model        string  `json:"model,omitempty"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`

	// AutoReply controls whether the agent answers un-mentioned messages.
	AutoReply bool `json:"autoReply"`

	// LLMCallCount is the lifetime call total; per-chat counts live in
	// the world runtime.
	LLMCallCount int `json:"llmCallCount"`

	// LLMCallLimit caps calls per chat; 0 falls back to world.TurnLimit.
	LLMCallLimit int `json:"llmCallLimit,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// EffectiveCallLimit returns the per-chat call limit for this agent.
func (a *Agent) EffectiveCallLimit(world *World) int {
	if a.LLMCallLimit > 0 {
		return a.LLMCallLimit
	}
	if world != nil {
		return world.EffectiveTurnLimit()
	}
	return DefaultTurnLimit
}

// Chat is a named timeline within a world. Events without a chat id belong
// to "no chat" but remain in world scope.
type Chat struct {
	ID           string    `json:"id"`
	WorldID      string    `json:"worldId"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	MessageCount int       `json:"messageCount"`
	Summary      string    `json:"summary,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MCPServerConfig describes one external MCP tool source attached to a world.
type MCPServerConfig struct {
	ID        string            `json:"id" yaml:"id"`
	Transport string            `json:"transport" yaml:"transport"` // stdio | http
	Command   string            `json:"command,omitempty" yaml:"command"`
	Args      []string          `json:"args,omitempty" yaml:"args"`
	Env       map[string]string `json:"env,omitempty" yaml:"env"`
	URL       string            `json:"url,omitempty" yaml:"url"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers"`
}

// SlugID converts an agent name into its canonical id: lowercase, with
// runs of non-alphanumerics collapsed to single hyphens.
func SlugID(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

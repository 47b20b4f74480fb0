// Package models defines the shared data types for the agent-world runtime:
// worlds, agents, chats, stored events, tool calls, and SSE wire events.
package models

import (
	"time"
)

// EventType classifies a stored event row.
type EventType string

const (
	EventMessage EventType = "message"
	EventSSE     EventType = "sse"
	EventSystem  EventType = "system"
	EventTool    EventType = "tool"
)

// Direction describes who is talking to whom in a message event.
type Direction string

const (
	DirectionHumanToAgent Direction = "human->agent"
	DirectionAgentToAgent Direction = "agent->agent"
	DirectionAgentToHuman Direction = "agent->human"
	DirectionSystem       Direction = "system"
)

// EventMetadata is stamped on every message event and drives per-agent
// memory filtering, cross-agent threading, and client rendering.
type EventMetadata struct {
	// OwnerAgentIDs lists the agents whose memory contains this message.
	// Authoritative for memory filtering.
	OwnerAgentIDs []string `json:"ownerAgentIds"`

	// RecipientAgentID is the @mention target, empty for broadcast.
	RecipientAgentID string `json:"recipientAgentId,omitempty"`

	// Direction is human->agent, agent->agent, agent->human, or system.
	Direction Direction `json:"direction"`

	// IsMemoryOnly marks messages saved to agent memory without a reply.
	IsMemoryOnly bool `json:"isMemoryOnly,omitempty"`

	// IsCrossAgent marks agent-to-different-agent messages.
	IsCrossAgent bool `json:"isCrossAgent,omitempty"`

	// ThreadRootID is the root of the reply chain this message belongs to.
	ThreadRootID string `json:"threadRootId,omitempty"`

	// ThreadDepth is the distance from the thread root (capped at 100).
	ThreadDepth int `json:"threadDepth,omitempty"`

	// HasToolCalls marks assistant messages carrying tool calls.
	HasToolCalls bool `json:"hasToolCalls,omitempty"`
}

// Event is the append-only stored record. Every message, stream capture,
// tool result, and system notice in a world is one Event row.
type Event struct {
	ID        string    `json:"id"`
	WorldID   string    `json:"worldId"`
	ChatID    string    `json:"chatId,omitempty"`
	Type      EventType `json:"type"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`

	// Message fields (Type == EventMessage or EventTool).

	// MessageID is client-generatable and stable across retries; replaying
	// a publish with the same MessageID is idempotent.
	MessageID        string         `json:"messageId,omitempty"`
	Sender           string         `json:"sender,omitempty"`
	Role             Role           `json:"role,omitempty"`
	Content          string         `json:"content,omitempty"`
	ReplyToMessageID string         `json:"replyToMessageId,omitempty"`
	ToolCalls        []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`
	Metadata         *EventMetadata `json:"metadata,omitempty"`
}

// IsMessage reports whether the event carries conversational content.
func (e *Event) IsMessage() bool {
	return e.Type == EventMessage || e.Type == EventTool
}

// OwnedBy reports whether agentID appears in the event's owner list.
func (e *Event) OwnedBy(agentID string) bool {
	if e.Metadata == nil {
		return false
	}
	for _, id := range e.Metadata.OwnerAgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	clone := *e
	if e.Metadata != nil {
		meta := *e.Metadata
		meta.OwnerAgentIDs = append([]string(nil), e.Metadata.OwnerAgentIDs...)
		clone.Metadata = &meta
	}
	if len(e.ToolCalls) > 0 {
		clone.ToolCalls = append([]ToolCall(nil), e.ToolCalls...)
	}
	return &clone
}

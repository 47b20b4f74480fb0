// Package memory manages per-agent conversation memory: the append path
// with owner computation, the LLM-context filter for client-side tool
// calls, and reply-chain threading.
package memory

import (
	"strings"
	"unicode"

	"github.com/agent-world/agent-world/pkg/models"
)

// HumanSender identifies messages published by human users.
const HumanSender = "human"

// Decision is the outcome of the should-agent-respond evaluation.
type Decision int

const (
	// DecisionSkip means the message is neither answered nor remembered.
	DecisionSkip Decision = iota
	// DecisionMemoryOnly saves the message to memory without a reply.
	DecisionMemoryOnly
	// DecisionRespond runs a full agent turn.
	DecisionRespond
	// DecisionTurnLimit saves to memory and publishes a turn-limit notice
	// instead of calling the LLM.
	DecisionTurnLimit
)

// ExtractMentions returns the lowercase @mention tokens in content. A
// mention is an @-prefixed word bounded by whitespace or punctuation.
func ExtractMentions(content string) []string {
	var mentions []string
	runes := []rune(content)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '@' {
			continue
		}
		// The @ must start a word.
		if i > 0 && isMentionRune(runes[i-1]) {
			continue
		}
		j := i + 1
		for j < len(runes) && isMentionRune(runes[j]) {
			j++
		}
		if j > i+1 {
			mentions = append(mentions, strings.ToLower(string(runes[i+1:j])))
		}
		i = j - 1
	}
	return mentions
}

func isMentionRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_'
}

// mentionsAgent reports whether any mention matches the agent's id or name
// (case-insensitive).
func mentionsAgent(mentions []string, agent *models.Agent) bool {
	id := strings.ToLower(agent.ID)
	name := strings.ToLower(agent.Name)
	for _, m := range mentions {
		if m == id || m == name {
			return true
		}
	}
	return false
}

// ShouldRespond applies the routing rules for one agent and one incoming
// message event. callCount is the agent's LLM call count in the message's
// chat. The rules are evaluated in order; the first match wins.
func ShouldRespond(agent *models.Agent, world *models.World, evt *models.Event, callCount int) Decision {
	// No self-reply.
	if evt.Sender == agent.ID {
		return DecisionSkip
	}
	// Messages scoped to another chat are invisible to the agent.
	if evt.ChatID != "" && world != nil && evt.ChatID != world.CurrentChatID {
		return DecisionSkip
	}

	mentions := ExtractMentions(evt.Content)
	mentioned := mentionsAgent(mentions, agent)

	// Agents with autoReply off only answer direct mentions.
	if !agent.AutoReply && !mentioned {
		return DecisionSkip
	}
	// Mentions address a subset of agents; the rest absorb silently.
	if len(mentions) > 0 && !mentioned {
		return DecisionMemoryOnly
	}
	// Un-mentioned agent-to-agent broadcast is absorbed into memory but
	// never answered, so agent pairs cannot loop.
	if len(mentions) == 0 && evt.Sender != HumanSender && evt.Sender != "" {
		return DecisionMemoryOnly
	}
	if callCount >= agent.EffectiveCallLimit(world) {
		return DecisionTurnLimit
	}
	return DecisionRespond
}

// RecipientOf returns the id of the first mentioned agent, or empty for a
// broadcast.
func RecipientOf(content string, agents []*models.Agent) string {
	mentions := ExtractMentions(content)
	if len(mentions) == 0 {
		return ""
	}
	for _, m := range mentions {
		for _, agent := range agents {
			if m == strings.ToLower(agent.ID) || m == strings.ToLower(agent.Name) {
				return agent.ID
			}
		}
	}
	return ""
}

// ComputeOwners returns the ids of every agent whose memory receives the
// event: the recipient plus all agents that would accept it. callCounts
// maps agent id to LLM calls in the event's chat.
func ComputeOwners(agents []*models.Agent, world *models.World, evt *models.Event, callCounts map[string]int) []string {
	seen := make(map[string]struct{})
	var owners []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		owners = append(owners, id)
	}

	if evt.Metadata != nil {
		add(evt.Metadata.RecipientAgentID)
	}
	for _, agent := range agents {
		// An agent always owns its own outbound messages.
		if agent.ID == evt.Sender {
			add(agent.ID)
			continue
		}
		switch ShouldRespond(agent, world, evt, callCounts[agent.ID]) {
		case DecisionRespond, DecisionMemoryOnly, DecisionTurnLimit:
			add(agent.ID)
		}
	}
	return owners
}

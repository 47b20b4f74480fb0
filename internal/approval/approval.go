// Package approval derives the tool approval state machine from chat
// memory. There is no approval table: every decision lives in the event
// stream as a tool_result for a synthetic client.requestApproval call,
// so branching a chat automatically branches its approvals.
package approval

import (
	"encoding/json"
	"time"

	"github.com/agent-world/agent-world/pkg/models"
)

// RequestToolName is the synthetic client-side tool that asks the human
// to approve a pending tool call.
const RequestToolName = "client.requestApproval"

// DefaultTimeout bounds how long a pending approval may wait before it
// is treated as denied.
const DefaultTimeout = 300 * time.Second

// Decision values carried in approval tool results.
const (
	DecisionApprove = "approve"
	DecisionDeny    = "deny"
)

// Scope values carried in approval tool results.
const (
	ScopeOnce    = "once"
	ScopeSession = "session"
)

// Options are the choices offered to the human, in display order.
var Options = []string{"deny", "approve_once", "approve_session"}

// State of one tool call's approval within a chat.
type State string

const (
	StateNone            State = "none"
	StateRequested       State = "requested"
	StateApprovedOnce    State = "approved_once"
	StateApprovedSession State = "approved_session"
	StateDenied          State = "denied"
	StateConsumed        State = "consumed"
)

// Granted reports whether the state allows execution now.
func (s State) Granted() bool {
	return s == StateApprovedOnce || s == StateApprovedSession
}

// requestArgs is the argument payload of a synthetic approval call.
type requestArgs struct {
	OriginalToolCall originalCall `json:"originalToolCall"`
	Message          string       `json:"message"`
	Options          []string     `json:"options"`
}

type originalCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// SyntheticCall builds the client.requestApproval tool call for a
// pending original call. The id is derived from the original so the
// decision can be matched back without extra bookkeeping.
func SyntheticCall(original models.ToolCall, message string) models.ToolCall {
	return models.NewToolCall("approval-"+original.ID, RequestToolName, requestArgs{
		OriginalToolCall: originalCall{
			ID:   original.ID,
			Name: original.Function.Name,
			Args: original.ArgsMap(),
		},
		Message: message,
		Options: Options,
	})
}

// DenialResult is the tool result content persisted for a denied call.
func DenialResult() string {
	payload, _ := json.Marshal(map[string]string{"status": "denied"})
	return string(payload)
}

// record is one reconstructed approval decision.
type record struct {
	decision           string
	scope              string
	toolName           string
	originalToolCallID string
}

// Evaluate reconstructs the approval state of call by scanning the
// agent's chat memory. The events must already be chat-scoped; the scan
// never looks outside them.
//
// Session-scope approvals match any call with the same tool name.
// Once-scope approvals match only the call whose id equals the stored
// originalToolCallId and are consumed by one persisted execution
// result. A deny is permanent for that specific call.
func Evaluate(events []*models.Event, call models.ToolCall) State {
	// syntheticID -> original call behind the request.
	requests := make(map[string]originalCall)
	var records []record
	executed := make(map[string]bool)

	for _, evt := range events {
		if !evt.IsMessage() {
			continue
		}
		for _, tc := range evt.ToolCalls {
			if tc.Function.Name != RequestToolName {
				continue
			}
			var args requestArgs
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				continue
			}
			requests[tc.ID] = args.OriginalToolCall
		}

		if evt.Role != models.RoleTool || evt.ToolCallID == "" {
			continue
		}
		if orig, ok := requests[evt.ToolCallID]; ok {
			payload, isResult := models.ParseToolResultPayload(evt.Content)
			if !isResult {
				continue
			}
			name := payload.ToolName
			if name == "" {
				name = orig.Name
			}
			records = append(records, record{
				decision:           payload.Decision,
				scope:              payload.Scope,
				toolName:           name,
				originalToolCallID: orig.ID,
			})
			continue
		}
		// A tool result for the original call means it already ran,
		// consuming any once-scope approval.
		executed[evt.ToolCallID] = true
	}

	state := StateNone
	for _, r := range records {
		switch {
		case r.decision == DecisionDeny && r.originalToolCallID == call.ID:
			return StateDenied
		case r.decision == DecisionApprove && r.scope == ScopeSession && r.toolName == call.Function.Name:
			state = StateApprovedSession
		case r.decision == DecisionApprove && r.scope == ScopeOnce && r.originalToolCallID == call.ID:
			if executed[call.ID] {
				if state != StateApprovedSession {
					state = StateConsumed
				}
			} else if state != StateApprovedSession {
				state = StateApprovedOnce
			}
		}
	}
	if state != StateNone {
		return state
	}

	// Requested but undecided.
	for _, orig := range requests {
		if orig.ID == call.ID {
			return StateRequested
		}
	}
	return StateNone
}

package server

import (
	"encoding/json"
	"net/http"

	"github.com/agent-world/agent-world/internal/approval"
	"github.com/agent-world/agent-world/internal/sse"
	"github.com/agent-world/agent-world/internal/store"
	"github.com/agent-world/agent-world/pkg/models"
	"github.com/google/uuid"
)

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	rt, err := s.manager.LoadWorld(r.Context(), r.PathValue("worldID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SSEConnections.WithLabelValues(rt.WorldID()).Inc()
		defer s.metrics.SSEConnections.WithLabelValues(rt.WorldID()).Dec()
	}
	err = s.streamer.Serve(w, r, rt, sse.Options{
		IdleTimeout:     s.opts.IdleTimeout,
		Grace:           s.opts.IdleGrace,
		IncludeMessages: r.URL.Query().Get("messages") == "true",
	})
	if err != nil {
		s.logger.Warn("sse stream ended with error", "worldId", rt.WorldID(), "error", err)
	}
}

func (s *Server) handleListHITL(w http.ResponseWriter, r *http.Request) {
	rt, err := s.manager.LoadWorld(r.Context(), r.PathValue("worldID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt.Pending().List())
}

func (s *Server) handleResolveHITL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestID string `json:"requestId"`
		Choice    string `json:"choice"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	rt, err := s.manager.LoadWorld(r.Context(), r.PathValue("worldID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := rt.ResolveHITL(r.Context(), req.RequestID, req.Choice); err != nil {
		s.writeError(w, errValidationf("%v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requestId": req.RequestID, "choice": req.Choice})
}

// handleApprovalDecision records a human decision for a pending tool
// approval. The decision is persisted as a tool result for the
// synthetic approval call; the orchestrator picks it up from the
// message channel and resumes the paused turn.
func (s *Server) handleApprovalDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToolCallID string `json:"toolCallId"`
		Decision   string `json:"decision"`
		Scope      string `json:"scope"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ToolCallID == "" {
		s.writeError(w, errValidationf("toolCallId is required"))
		return
	}
	switch req.Decision {
	case approval.DecisionApprove, approval.DecisionDeny:
	default:
		s.writeError(w, errValidationf("unknown decision %q", req.Decision))
		return
	}
	if req.Decision == approval.DecisionApprove {
		switch req.Scope {
		case approval.ScopeOnce, approval.ScopeSession:
		default:
			s.writeError(w, errValidationf("unknown scope %q", req.Scope))
			return
		}
	}

	rt, err := s.manager.LoadWorld(r.Context(), r.PathValue("worldID"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	// The synthetic call lives on a stored assistant message; that
	// message names the agent whose turn is paused and the chat and
	// tool the approval covers.
	origin, synthetic, err := s.findApprovalRequest(r, rt.WorldID(), req.ToolCallID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var toolName string
	if oc, ok := synthetic.ArgsMap()["originalToolCall"].(map[string]any); ok {
		toolName, _ = oc["name"].(string)
	}
	payload, err := json.Marshal(&models.ToolResultPayload{
		Type:     "tool_result",
		Decision: req.Decision,
		Scope:    req.Scope,
		ToolName: toolName,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	evt := &models.Event{
		ChatID:     origin.ChatID,
		Type:       models.EventTool,
		MessageID:  uuid.NewString(),
		Sender:     "human",
		Role:       models.RoleTool,
		ToolCallID: req.ToolCallID,
		Content:    string(payload),
		Metadata: &models.EventMetadata{
			OwnerAgentIDs: []string{origin.Sender},
			Direction:     models.DirectionSystem,
		},
	}
	if err := rt.PersistAndEmit(r.Context(), evt); err != nil {
		s.writeError(w, err)
		return
	}
	if s.metrics != nil {
		scope := req.Scope
		if req.Decision == approval.DecisionDeny {
			scope = "n/a"
		}
		s.metrics.ApprovalDecisions.WithLabelValues(req.Decision, scope).Inc()
	}
	writeJSON(w, http.StatusAccepted, evt)
}

// findApprovalRequest locates the assistant message carrying the
// synthetic approval call with the given id.
func (s *Server) findApprovalRequest(r *http.Request, worldID, toolCallID string) (*models.Event, *models.ToolCall, error) {
	events, err := s.manager.GetEvents(r.Context(), worldID, store.EventQuery{
		Types: []models.EventType{models.EventMessage},
	})
	if err != nil {
		return nil, nil, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		evt := events[i]
		if evt.Role != models.RoleAssistant {
			continue
		}
		for j := range evt.ToolCalls {
			tc := &evt.ToolCalls[j]
			if tc.ID == toolCallID && tc.Function.Name == approval.RequestToolName {
				return evt, tc, nil
			}
		}
	}
	return nil, nil, errValidationf("no pending approval for tool call %q", toolCallID)
}

package server

import (
	"net/http"

	"github.com/agent-world/agent-world/internal/manager"
	"github.com/agent-world/agent-world/pkg/models"
)

func (s *Server) handleCreateWorld(w http.ResponseWriter, r *http.Request) {
	var world models.World
	if err := decodeBody(r, &world); err != nil {
		s.writeError(w, err)
		return
	}
	created, err := s.manager.CreateWorld(r.Context(), &world)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListWorlds(w http.ResponseWriter, r *http.Request) {
	worlds, err := s.manager.ListWorlds(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worlds)
}

func (s *Server) handleGetWorld(w http.ResponseWriter, r *http.Request) {
	world, err := s.manager.GetWorld(r.Context(), r.PathValue("worldID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, world)
}

func (s *Server) handleUpdateWorld(w http.ResponseWriter, r *http.Request) {
	var world models.World
	if err := decodeBody(r, &world); err != nil {
		s.writeError(w, err)
		return
	}
	world.ID = r.PathValue("worldID")
	if err := s.manager.UpdateWorld(r.Context(), &world); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &world)
}

func (s *Server) handleDeleteWorld(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteWorld(r.Context(), r.PathValue("worldID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportWorld(w http.ResponseWriter, r *http.Request) {
	export, err := s.manager.ExportWorld(r.Context(), r.PathValue("worldID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (s *Server) handleImportWorld(w http.ResponseWriter, r *http.Request) {
	var export manager.WorldExport
	if err := decodeBody(r, &export); err != nil {
		s.writeError(w, err)
		return
	}
	world, err := s.manager.ImportWorld(r.Context(), &export, r.URL.Query().Get("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, world)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var agent models.Agent
	if err := decodeBody(r, &agent); err != nil {
		s.writeError(w, err)
		return
	}
	created, err := s.manager.CreateAgent(r.Context(), r.PathValue("worldID"), &agent)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.manager.ListAgents(r.Context(), r.PathValue("worldID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

// agentPatch mirrors manager.AgentUpdate for the wire; absent fields
// leave the agent unchanged.
type agentPatch struct {
	Name         *string  `json:"name"`
	Provider     *string  `json:"provider"`
	Model        *string  `json:"model"`
	SystemPrompt *string  `json:"systemPrompt"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    *int     `json:"maxTokens"`
	AutoReply    *bool    `json:"autoReply"`
	LLMCallLimit *int     `json:"llmCallLimit"`
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var patch agentPatch
	if err := decodeBody(r, &patch); err != nil {
		s.writeError(w, err)
		return
	}
	agent, err := s.manager.UpdateAgent(r.Context(), r.PathValue("worldID"), r.PathValue("agentID"), manager.AgentUpdate{
		Name:         patch.Name,
		Provider:     patch.Provider,
		Model:        patch.Model,
		SystemPrompt: patch.SystemPrompt,
		Temperature:  patch.Temperature,
		MaxTokens:    patch.MaxTokens,
		AutoReply:    patch.AutoReply,
		LLMCallLimit: patch.LLMCallLimit,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteAgent(r.Context(), r.PathValue("worldID"), r.PathValue("agentID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

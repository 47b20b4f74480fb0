package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/agent-world/agent-world/internal/store"
	"github.com/agent-world/agent-world/internal/world"
	"github.com/agent-world/agent-world/pkg/models"
)

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		MakeCurrent bool   `json:"makeCurrent"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	chat, err := s.manager.CreateChat(r.Context(), r.PathValue("worldID"), req.Name, req.MakeCurrent)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.manager.ListChats(r.Context(), r.PathValue("worldID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteChat(r.Context(), r.PathValue("worldID"), r.PathValue("chatID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetCurrentChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID string `json:"chatId"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.manager.SetCurrentChat(r.Context(), r.PathValue("worldID"), req.ChatID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBranchChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID string `json:"messageId"`
		Name      string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	chat, err := s.manager.BranchChat(r.Context(), r.PathValue("worldID"), r.PathValue("chatID"), req.MessageID, req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	query := store.EventQuery{}
	params := r.URL.Query()
	if params.Has("chatId") {
		chatID := params.Get("chatId")
		query.ChatID = &chatID
	}
	if after := params.Get("afterSeq"); after != "" {
		seq, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			s.writeError(w, errValidationf("invalid afterSeq %q", after))
			return
		}
		query.AfterSeq = seq
	}
	if limit := params.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			s.writeError(w, errValidationf("invalid limit %q", limit))
			return
		}
		query.Limit = n
	}
	if types := params.Get("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			query.Types = append(query.Types, models.EventType(strings.TrimSpace(t)))
		}
	}
	events, err := s.manager.GetEvents(r.Context(), r.PathValue("worldID"), query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handlePublishMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text             string `json:"text"`
		Sender           string `json:"sender"`
		ChatID           string `json:"chatId"`
		MessageID        string `json:"messageId"`
		ReplyToMessageID string `json:"replyToMessageId"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, errValidationf("text is required"))
		return
	}
	sender := req.Sender
	if sender == "" {
		sender = "human"
	}

	rt, err := s.manager.LoadWorld(r.Context(), r.PathValue("worldID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	evt, err := rt.PublishMessage(r.Context(), req.Text, sender, world.PublishOptions{
		MessageID:        req.MessageID,
		ReplyToMessageID: req.ReplyToMessageID,
		ChatID:           req.ChatID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.metrics != nil {
		kind := "agent"
		if sender == "human" {
			kind = "human"
		}
		s.metrics.MessagesPublished.WithLabelValues(rt.WorldID(), kind).Inc()
	}
	writeJSON(w, http.StatusAccepted, evt)
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID string `json:"chatId"`
		Text   string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.manager.EditUserMessage(r.Context(),
		r.PathValue("worldID"), req.ChatID, r.PathValue("messageID"), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		// Some agents are mid-turn and could not be truncated.
		status = http.StatusLocked
	}
	writeJSON(w, status, result)
}

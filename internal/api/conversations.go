package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nugget/laopeng-portal/internal/conversation"
)

// ConversationList is the response of GET /v1/conversations.
type ConversationList struct {
	Conversations []conversation.Conversation `json:"conversations"`
	ActiveID      string                      `json:"activeId,omitempty"`
}

// CreateConversationRequest is the body of POST /v1/conversations.
type CreateConversationRequest struct {
	AgentID string `json:"agentId"`
}

// UpdateConversationRequest is the body of PATCH /v1/conversations/{id}.
// Absent fields are left unchanged.
type UpdateConversationRequest struct {
	Title   *string `json:"title"`
	AgentID *string `json:"agentId"`
}

func (s *Server) handleConversationList(w http.ResponseWriter, _ *http.Request) {
	list := ConversationList{Conversations: s.store.List()}
	if active, ok := s.store.Active(); ok {
		list.ActiveID = active.ID
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, list, s.logger)
}

func (s *Server) handleConversationCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	agentID := strings.TrimSpace(req.AgentID)
	if agentID != "" {
		if _, ok := s.catalog.Get(agentID); !ok {
			s.errorResponse(w, http.StatusBadRequest, "unknown agent: "+agentID)
			return
		}
	}

	conv, err := s.store.Create(agentID)
	if !warnPersist(w, err) {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, conv, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, conv, s.logger)
}

func (s *Server) handleConversationUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == nil && req.AgentID == nil {
		s.errorResponse(w, http.StatusBadRequest, "nothing to update (title or agentId required)")
		return
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			s.errorResponse(w, http.StatusBadRequest, "title must not be empty")
			return
		}
		if err := s.store.Rename(id, title); !warnPersist(w, err) {
			s.errorResponse(w, statusFor(err), err.Error())
			return
		}
	}
	if req.AgentID != nil {
		agentID := strings.TrimSpace(*req.AgentID)
		if _, ok := s.catalog.Get(agentID); !ok {
			s.errorResponse(w, http.StatusBadRequest, "unknown agent: "+agentID)
			return
		}
		if err := s.store.SetAgent(id, agentID); !warnPersist(w, err) {
			s.errorResponse(w, statusFor(err), err.Error())
			return
		}
	}

	conv, _ := s.store.Get(id)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, conv, s.logger)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.session != nil && s.session.Busy(id) {
		s.errorResponse(w, http.StatusConflict, "a reply is still streaming")
		return
	}
	if err := s.store.Delete(id); !warnPersist(w, err) {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConversationActivate(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetActive(r.PathValue("id")); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, conversation.ErrNotFound) {
			code = http.StatusNotFound
		}
		s.errorResponse(w, code, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

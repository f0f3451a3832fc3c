package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sweetpotato0/ai-router/conversation"
	"github.com/sweetpotato0/ai-router/errors"
)

type sendMessageRequest struct {
	Message string `json:"message"`
}

type sendMessageResponse struct {
	Response     string `json:"response"`
	PersistError string `json:"persist_error,omitempty"`
}

type conversationRequest struct {
	ConversationID   string            `json:"conversation_id"`
	ConversationData *conversationData `json:"conversation_data,omitempty"`
}

type conversationData struct {
	Name     string               `json:"name"`
	Messages []conversation.Entry `json:"messages"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, "message is required", http.StatusBadRequest)
		return
	}

	sessionID := s.sessionID(w, r)
	result, err := s.turns.HandleTurn(r.Context(), sessionID, req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := sendMessageResponse{Response: result.Answer}
	if result.PersistErr != nil {
		resp.PersistError = result.PersistErr.Error()
	}
	writeJSONResponse(w, resp, http.StatusOK)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		writeJSONResponse(w, map[string]string{"status": "No active session"}, http.StatusOK)
		return
	}

	ended, err := s.turns.EndSession(r.Context(), c.Value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.clearSession(w)
	status := "No active session"
	if ended {
		status = "Session ended"
	}
	writeJSONResponse(w, map[string]string{"status": status}, http.StatusOK)
}

func (s *Server) getHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, s.events.History(), http.StatusOK)
}

func (s *Server) getEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, s.events.Events(), http.StatusOK)
}

func (s *Server) getConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.conversations.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSONResponse(w, summaries, http.StatusOK)
}

func (s *Server) loadConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ConversationID) == "" {
		writeJSONError(w, "conversation_id is required", http.StatusBadRequest)
		return
	}
	c, err := s.conversations.Get(r.Context(), req.ConversationID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if c.Messages == nil {
		c.Messages = []conversation.Entry{}
	}
	writeJSONResponse(w, c, http.StatusOK)
}

func (s *Server) saveConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ConversationID) == "" {
		writeJSONError(w, "conversation_id is required", http.StatusBadRequest)
		return
	}
	c := &conversation.Conversation{ID: req.ConversationID}
	if req.ConversationData != nil {
		c.Name = req.ConversationData.Name
		c.Messages = req.ConversationData.Messages
	}
	if err := s.conversations.Save(r.Context(), c); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSONResponse(w, map[string]string{"status": "Conversation saved", "id": c.ID, "name": c.Name}, http.StatusOK)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if s.logger != nil {
		level := s.logger.Warn
		if status >= http.StatusInternalServerError {
			level = s.logger.Error
		}
		level("request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSONError(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrProtocol):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errors.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

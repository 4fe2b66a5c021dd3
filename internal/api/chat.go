package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/laopeng-portal/internal/agent"
)

// ChatRequest is the body of POST /v1/chat. An empty ConversationID
// starts a new conversation with AgentID.
type ChatRequest struct {
	ConversationID string `json:"conversationId"`
	AgentID        string `json:"agentId"`
	Message        string `json:"message"`
	Stream         bool   `json:"stream"`
}

// Event is one streamed chat event, sent as an SSE data payload or a
// WebSocket text frame. Type is token, done, or error.
type Event struct {
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Reply          string `json:"reply,omitempty"`
	PersistFailed  bool   `json:"persistFailed,omitempty"`
	Message        string `json:"message,omitempty"`
	Status         int    `json:"status,omitempty"`
}

func doneEvent(res agent.SendResult) Event {
	return Event{
		Type:           "done",
		ConversationID: res.ConversationID,
		Reply:          res.Reply,
		PersistFailed:  res.PersistFailed,
	}
}

func errorEvent(res agent.SendResult, err error) Event {
	return Event{
		Type:           "error",
		ConversationID: res.ConversationID,
		Message:        err.Error(),
		Status:         statusFor(err),
	}
}

func wantsEventStream(r *http.Request, req ChatRequest) bool {
	return req.Stream || strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// handleChat runs one turn.
// POST /v1/chat {"message": "帮我改改这段作文", "agentId": "writing"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.ConversationID != "" {
		if _, ok := s.store.Get(req.ConversationID); !ok {
			s.errorResponse(w, http.StatusNotFound, "conversation not found")
			return
		}
		if s.session.Busy(req.ConversationID) {
			s.errorResponse(w, http.StatusConflict, agent.ErrSendInFlight.Error())
			return
		}
	}

	if wantsEventStream(r, req) {
		s.streamChat(w, r, req)
		return
	}

	res, err := s.session.Send(r.Context(), req.ConversationID, req.AgentID, req.Message, nil)
	if res.PersistFailed {
		w.Header().Set(WarningHeader, "persistence failed")
	}
	if err != nil {
		s.logger.Error("chat failed", "conversation", res.ConversationID, "error", err)
		w.Header().Set("Content-Type", "application/json")
		code := statusFor(err)
		w.WriteHeader(code)
		writeJSON(w, map[string]any{
			"conversationId": res.ConversationID,
			"error": map[string]any{
				"message": err.Error(),
				"code":    code,
			},
		}, s.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, res, s.logger)
}

// streamChat answers with server-sent events: a token event per
// fragment, then a single done or error event.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req ChatRequest) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	send := func(ev Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Debug("failed to marshal SSE event", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			s.logger.Debug("failed to write SSE event", "error", err)
			return
		}
		if err := rc.Flush(); err != nil {
			s.logger.Debug("failed to flush SSE event", "error", err)
		}
		// Extend the deadline after every event so long tool rounds
		// do not trip the server's write timeout.
		if err := rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}

	res, err := s.session.Send(r.Context(), req.ConversationID, req.AgentID, req.Message, func(token string) {
		send(Event{Type: "token", Text: token})
	})
	if err != nil {
		s.logger.Error("chat stream failed", "conversation", res.ConversationID, "error", err)
		send(errorEvent(res, err))
		return
	}
	send(doneEvent(res))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The portal is served from its own origin during development.
	CheckOrigin: func(*http.Request) bool { return true },
}

// socketRequest is a client frame on the chat socket.
type socketRequest struct {
	Message string `json:"message"`
}

const (
	socketReadLimit    = 64 << 10
	socketWriteTimeout = 10 * time.Second
)

// handleChatSocket streams turns for one conversation over a
// WebSocket. Each client frame is a message to send; frames arriving
// while a turn streams are handled in order once it completes.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("id")
	if _, ok := s.store.Get(convID); !ok {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(socketReadLimit)

	log := s.logger.With("conversation", convID)
	log.Debug("chat socket opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	incoming := make(chan socketRequest)
	go func() {
		defer cancel()
		defer close(incoming)
		for {
			var req socketRequest
			if err := conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("chat socket read failed", "error", err)
				}
				return
			}
			select {
			case incoming <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	write := func(ev Event) error {
		if err := conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteJSON(ev)
	}

	for req := range incoming {
		if strings.TrimSpace(req.Message) == "" {
			if err := write(Event{Type: "error", Message: "message is required", Status: http.StatusBadRequest}); err != nil {
				return
			}
			continue
		}

		var writeErr error
		res, err := s.session.Send(ctx, convID, "", req.Message, func(token string) {
			if writeErr == nil {
				writeErr = write(Event{Type: "token", Text: token})
			}
		})
		if writeErr != nil {
			log.Debug("chat socket write failed", "error", writeErr)
			return
		}
		if err != nil {
			log.Warn("chat socket turn failed", "error", err)
			if write(errorEvent(res, err)) != nil {
				return
			}
			continue
		}
		if write(doneEvent(res)) != nil {
			return
		}
	}
	log.Debug("chat socket closed")
}

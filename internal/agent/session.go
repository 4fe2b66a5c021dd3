package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nugget/laopeng-portal/internal/agents"
	"github.com/nugget/laopeng-portal/internal/conversation"
	"github.com/nugget/laopeng-portal/internal/tools"
)

// ErrSendInFlight is returned when a conversation already has a turn
// streaming. Sends are rejected, not queued.
var ErrSendInFlight = errors.New("a reply is already streaming for this conversation")

// FailurePrefix starts the assistant message written when a turn fails.
const FailurePrefix = "❌ 请求失败："

// Runner runs one assistant turn. [*Loop] is the production
// implementation.
type Runner interface {
	Run(ctx context.Context, history []conversation.Message, systemPrompt string, onToken TokenFunc) (string, error)
}

// SendResult describes a completed send.
type SendResult struct {
	ConversationID string `json:"conversationId"`
	Reply          string `json:"reply"`
	// PersistFailed is set when any store write during the send failed.
	// The conversation is intact in memory.
	PersistFailed bool `json:"persistFailed,omitempty"`
}

// Session wires the loop to the conversation store and agent catalog.
type Session struct {
	store   *conversation.Store
	catalog *agents.Catalog
	runner  Runner
	logger  *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewSession creates a chat session.
func NewSession(store *conversation.Store, catalog *agents.Catalog, runner Runner, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		store:    store,
		catalog:  catalog,
		runner:   runner,
		logger:   logger.With("component", "session"),
		inFlight: make(map[string]bool),
	}
}

// Send posts text as a user message and streams the assistant's reply
// into a placeholder message. An empty convID creates a conversation
// with agentID (empty means the default agent); for an existing
// conversation agentID is ignored and the conversation's own agent is
// used. onToken receives the streamed fragments and may be nil.
//
// When the turn fails the placeholder is replaced by a failure notice
// and the error is returned alongside the result.
func (s *Session) Send(ctx context.Context, convID, agentID, text string, onToken TokenFunc) (SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SendResult{}, fmt.Errorf("message is empty")
	}

	var res SendResult
	track := func(err error) {
		if err == nil {
			return
		}
		if conversation.IsPersistError(err) {
			res.PersistFailed = true
			return
		}
		s.logger.Warn("conversation update failed", "conversation", res.ConversationID, "error", err)
	}

	if convID == "" {
		conv, err := s.store.Create(agentID)
		if err != nil && !conversation.IsPersistError(err) {
			return SendResult{}, err
		}
		track(err)
		convID = conv.ID
	}
	res.ConversationID = convID

	if !s.acquire(convID) {
		return res, ErrSendInFlight
	}
	defer s.release(convID)

	conv, ok := s.store.Get(convID)
	if !ok {
		return res, conversation.ErrNotFound
	}

	userMsg := conversation.NewMessage(conversation.RoleUser, text)
	track(s.store.AppendMessage(convID, userMsg))
	track(s.store.AppendMessage(convID, conversation.NewMessage(conversation.RoleAssistant, "")))

	history := append(conv.Messages, userMsg)
	agent := s.catalog.Resolve(conv.AgentID)

	s.logger.Info("send started", "conversation", convID, "agent", agent.ID, "history", len(history))

	ctx = tools.WithTurn(ctx, convID, agent.ID)
	var accumulated strings.Builder
	final, err := s.runner.Run(ctx, history, agent.SystemPrompt, func(token string) {
		accumulated.WriteString(token)
		track(s.store.UpdateLastAssistantMessage(convID, accumulated.String()))
		if onToken != nil {
			onToken(token)
		}
	})
	if err != nil {
		s.logger.Warn("send failed", "conversation", convID, "error", err)
		res.Reply = FailurePrefix + err.Error()
		track(s.store.UpdateLastAssistantMessage(convID, res.Reply))
		return res, err
	}

	res.Reply = final
	if res.Reply == "" {
		res.Reply = accumulated.String()
	}
	track(s.store.UpdateLastAssistantMessage(convID, res.Reply))

	if res.PersistFailed {
		s.logger.Warn("send completed without durable persistence", "conversation", convID)
	}
	return res, nil
}

func (s *Session) acquire(convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[convID] {
		return false
	}
	s.inFlight[convID] = true
	return true
}

func (s *Session) release(convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, convID)
}

// Busy reports whether convID has a turn streaming.
func (s *Session) Busy(convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[convID]
}

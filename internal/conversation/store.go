package conversation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/laopeng-portal/internal/localstore"
)

// Store manages the conversation collection. Every mutation rewrites
// the whole collection to storage under [StorageKey] while holding the
// lock, so writes are never reordered. All methods are safe for
// concurrent use; reads return copies.
type Store struct {
	mu       sync.Mutex
	storage  localstore.Storage
	logger   *slog.Logger
	now      func() time.Time
	convs    []*Conversation // newest first
	activeID string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New loads the collection from storage. An absent or undecodable
// collection starts empty (the latter is logged). The first
// conversation, if any, becomes active.
func New(storage localstore.Storage, logger *slog.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		storage: storage,
		logger:  logger.With("component", "conversations"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	raw, ok, err := storage.Get(StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	if ok && raw != "" {
		var loaded []*Conversation
		if err := json.Unmarshal([]byte(raw), &loaded); err != nil {
			s.logger.Warn("stored conversations undecodable, starting empty", "error", err)
		} else {
			for _, c := range loaded {
				if c == nil || c.ID == "" {
					continue
				}
				if c.Messages == nil {
					c.Messages = []Message{}
				}
				s.convs = append(s.convs, c)
			}
		}
	}
	if len(s.convs) > 0 {
		s.activeID = s.convs[0].ID
	}

	s.logger.Debug("conversations loaded", "count", len(s.convs))
	return s, nil
}

func (s *Store) millis() int64 {
	return s.now().UnixMilli()
}

// find returns the index of id, or -1. Caller holds mu.
func (s *Store) find(id string) int {
	for i, c := range s.convs {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// persist writes the whole collection. Caller holds mu.
func (s *Store) persist() error {
	data, err := json.Marshal(s.convs)
	if err == nil {
		err = s.storage.Set(StorageKey, string(data))
	}
	if err != nil {
		s.logger.Warn("conversation persistence failed; keeping in-memory state", "error", err)
		return &PersistError{Err: err}
	}
	return nil
}

// Create inserts a new empty conversation at the front of the
// collection and makes it active. An empty agentID selects the default
// agent. The returned conversation is valid even when the error is a
// [*PersistError].
func (s *Store) Create(agentID string) (Conversation, error) {
	if agentID == "" {
		agentID = DefaultAgentID
	}
	now := s.millis()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.convs = append([]*Conversation{conv}, s.convs...)
	s.activeID = conv.ID
	return conv.copy(), s.persist()
}

// Delete removes a conversation. When it was active, the new first
// conversation (or none) becomes active.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(id)
	if i < 0 {
		return ErrNotFound
	}
	s.convs = append(s.convs[:i], s.convs[i+1:]...)
	if s.activeID == id {
		s.activeID = ""
		if len(s.convs) > 0 {
			s.activeID = s.convs[0].ID
		}
	}
	return s.persist()
}

// AppendMessage appends msg to the conversation. When it is the first
// message and from the user, the title is derived from its first 20
// characters. A missing id or timestamp is filled in.
func (s *Store) AppendMessage(convID string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = s.millis()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(convID)
	if i < 0 {
		return ErrNotFound
	}
	c := s.convs[i]
	if len(c.Messages) == 0 && msg.Role == RoleUser {
		c.Title = deriveTitle(msg.Content)
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = s.millis()
	return s.persist()
}

// UpdateLastAssistantMessage replaces the content of the conversation's
// last message when, and only when, that message is from the
// assistant. Otherwise it does nothing and returns nil.
func (s *Store) UpdateLastAssistantMessage(convID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(convID)
	if i < 0 {
		return ErrNotFound
	}
	c := s.convs[i]
	last := len(c.Messages) - 1
	if last < 0 || c.Messages[last].Role != RoleAssistant {
		return nil
	}
	c.Messages[last].Content = content
	c.UpdatedAt = s.millis()
	return s.persist()
}

// Rename sets the title. UpdatedAt is left unchanged.
func (s *Store) Rename(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(id)
	if i < 0 {
		return ErrNotFound
	}
	s.convs[i].Title = title
	return s.persist()
}

// SetAgent reassigns the conversation's agent.
func (s *Store) SetAgent(id, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(id)
	if i < 0 {
		return ErrNotFound
	}
	s.convs[i].AgentID = agentID
	s.convs[i].UpdatedAt = s.millis()
	return s.persist()
}

// Get returns a copy of the conversation.
func (s *Store) Get(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(id)
	if i < 0 {
		return Conversation{}, false
	}
	return s.convs[i].copy(), true
}

// List returns copies of every conversation, newest first.
func (s *Store) List() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Conversation, len(s.convs))
	for i, c := range s.convs {
		out[i] = c.copy()
	}
	return out
}

// Active returns the active conversation, if any.
func (s *Store) Active() (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID == "" {
		return Conversation{}, false
	}
	i := s.find(s.activeID)
	if i < 0 {
		return Conversation{}, false
	}
	return s.convs[i].copy(), true
}

// SetActive selects the active conversation. An empty id clears the
// selection. Selection is session state and is not persisted.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" && s.find(id) < 0 {
		return ErrNotFound
	}
	s.activeID = id
	return nil
}

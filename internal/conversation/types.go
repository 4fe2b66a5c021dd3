// Package conversation owns the durable list of conversations and their
// message sequences.
package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StorageKey is the single storage key holding the whole collection.
const StorageKey = "laopeng_conversations"

// DefaultTitle is the title of a conversation that has no user message
// yet, or whose first user message is empty.
const DefaultTitle = "新对话"

// DefaultAgentID is used when a conversation is created without an
// explicit agent.
const DefaultAgentID = "default"

// titleLength is the number of characters of the first user message
// kept as the derived title.
const titleLength = 20

// Role is the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a conversation. Timestamp is epoch millis.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Conversation is an ordered, append-only message sequence with its
// selected agent. Timestamps are epoch millis.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	AgentID   string    `json:"agentId"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
}

// NewMessage creates a message with a fresh id stamped now.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// LastMessage returns the final message, if any.
func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

func (c *Conversation) copy() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// deriveTitle returns the first titleLength characters of content, or
// DefaultTitle when that is empty.
func deriveTitle(content string) string {
	r := []rune(content)
	if len(r) > titleLength {
		r = r[:titleLength]
	}
	if len(r) == 0 {
		return DefaultTitle
	}
	return string(r)
}

// ErrNotFound is returned by mutations that name an unknown conversation.
var ErrNotFound = errors.New("conversation not found")

// PersistError reports that a mutation was applied in memory but the
// collection could not be written to storage. The in-memory state
// remains authoritative; callers should surface it as a warning.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist conversations: %v", e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// IsPersistError reports whether err is (or wraps) a *PersistError.
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

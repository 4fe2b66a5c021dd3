package tools

import "context"

type contextKey string

const (
	conversationIDKey contextKey = "conversation_id"
	agentIDKey        contextKey = "agent_id"
)

// WithTurn tags the context with the conversation and agent a tool call
// is made for. Empty values are not stored.
func WithTurn(ctx context.Context, conversationID, agentID string) context.Context {
	if conversationID != "" {
		ctx = context.WithValue(ctx, conversationIDKey, conversationID)
	}
	if agentID != "" {
		ctx = context.WithValue(ctx, agentIDKey, agentID)
	}
	return ctx
}

// ConversationIDFromContext returns the conversation set by [WithTurn],
// or "" outside a turn.
func ConversationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(conversationIDKey).(string)
	return id
}

// AgentIDFromContext returns the agent set by [WithTurn], or "".
func AgentIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(agentIDKey).(string)
	return id
}

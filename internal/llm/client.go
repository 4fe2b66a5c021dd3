// Package llm provides the chat message model, incremental chunk
// merging, and the OpenRouter client used by the agentic loop and the
// feed fetcher.
package llm

import "context"

// Client is the interface an LLM provider must implement.
type Client interface {
	// ChatStream opens a streaming completion bound to the given tool
	// definitions. The caller must Close the returned stream.
	ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any) (Stream, error)

	// Chat sends a single non-streaming completion request.
	Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error)
}

// Stream yields response chunks in arrival order. Recv returns io.EOF
// once the provider signals completion.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

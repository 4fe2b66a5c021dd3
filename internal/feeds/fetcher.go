// Package feeds publishes the portal's two daily feeds (the home topic
// and headline, and the news list). Each is produced by a one-shot
// question to a search-capable model, cached for the calendar day, and
// replaced by a static dataset when anything goes wrong.
package feeds

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/laopeng-portal/internal/config"
	"github.com/nugget/laopeng-portal/internal/llm"
)

// Completer is the non-streaming half of [llm.Client].
type Completer interface {
	Chat(ctx context.Context, model string, messages []llm.Message) (*llm.ChatResponse, error)
}

// Fetcher sends single-prompt queries to the search model.
type Fetcher struct {
	client Completer
	model  string
	logger *slog.Logger
}

// NewFetcher creates a fetcher that queries model through client.
func NewFetcher(client Completer, model string, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: client,
		model:  model,
		logger: logger.With("component", "search"),
	}
}

// Query sends prompt as the only user message and returns the raw
// assistant text. Failures carry the provider's [*llm.APIError] or
// [llm.ErrMalformedResponse].
func (f *Fetcher) Query(ctx context.Context, prompt string) (string, error) {
	f.logger.Debug("search query", "model", f.model, "prompt_len", len(prompt))
	f.logger.Log(ctx, config.LevelTrace, "search prompt", "prompt", prompt)

	resp, err := f.client.Chat(ctx, f.model, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("search query: %w", err)
	}

	f.logger.Log(ctx, config.LevelTrace, "search answer", "content", resp.Message.Content)
	return resp.Message.Content, nil
}

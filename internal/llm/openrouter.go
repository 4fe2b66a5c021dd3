package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/laopeng-portal/internal/config"
	"github.com/nugget/laopeng-portal/internal/httpkit"
)

// ErrMalformedResponse is returned when a completion response lacks the
// expected choices[0].message.content shape.
var ErrMalformedResponse = errors.New("malformed completion response")

// APIError is a non-success HTTP status from the provider. Body carries
// the raw response text for diagnostics.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openrouter API error %d: %s", e.StatusCode, e.Body)
}

// OpenRouterOptions configures an [OpenRouterClient].
type OpenRouterOptions struct {
	BaseURL string
	APIKey  string
	// Referer and Title are sent as HTTP-Referer and X-Title for
	// OpenRouter's app attribution.
	Referer string
	Title   string
}

// OpenRouterClient talks to an OpenAI-compatible chat completions
// endpoint (OpenRouter by default).
type OpenRouterClient struct {
	opts       OpenRouterOptions
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(opts OpenRouterOptions, logger *slog.Logger) *OpenRouterClient {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = config.DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	// Free-tier models can queue for a while before sending headers.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &OpenRouterClient{
		opts:   opts,
		logger: logger.With("provider", "openrouter"),
		httpClient: httpkit.NewClient(
			// Streams are long-lived; ctx controls cancellation.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
	}
}

// Wire types for the OpenAI-compatible API.

type wireRequest struct {
	Model    string           `json:"model"`
	Messages []wireMessage    `json:"messages"`
	Stream   bool             `json:"stream,omitempty"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type wireError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type wireStreamEvent struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   Content        `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *wireError `json:"error,omitempty"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message *struct {
			Content *Content `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage wireUsage  `json:"usage"`
	Error *wireError `json:"error,omitempty"`
}

func toWireMessages(messages []Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wc := wireToolCall{ID: tc.ID, Type: "function"}
			wc.Function.Name = tc.Name
			wc.Function.Arguments = tc.Arguments
			if wc.Function.Arguments == "" {
				wc.Function.Arguments = "{}"
			}
			wm.ToolCalls = append(wm.ToolCalls, wc)
		}
		out = append(out, wm)
	}
	return out
}

func (c *OpenRouterClient) post(ctx context.Context, req wireRequest) (*http.Response, error) {
	if c.opts.APIKey == "" {
		return nil, config.ErrMissingAPIKey
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"stream", req.Stream,
	)
	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	if c.opts.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.opts.Referer)
	}
	if c.opts.Title != "" {
		httpReq.Header.Set("X-Title", c.opts.Title)
	}
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: errBody}
	}
	return resp, nil
}

// Chat sends a single non-streaming completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	resp, err := c.post(ctx, wireRequest{
		Model:    model,
		Messages: toWireMessages(messages),
	})
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if wire.Error != nil {
		return nil, &APIError{StatusCode: errorStatus(wire.Error, resp.StatusCode), Body: wire.Error.Message}
	}
	if len(wire.Choices) == 0 || wire.Choices[0].Message == nil || wire.Choices[0].Message.Content == nil {
		return nil, ErrMalformedResponse
	}

	choice := wire.Choices[0]
	result := &ChatResponse{
		Model: wire.Model,
		Message: Message{
			Role:    RoleAssistant,
			Content: choice.Message.Content.String(),
		},
		FinishReason: choice.FinishReason,
		InputTokens:  wire.Usage.PromptTokens,
		OutputTokens: wire.Usage.CompletionTokens,
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
	)
	c.logger.Log(ctx, config.LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

// ChatStream opens a server-sent-events completion stream.
func (c *OpenRouterClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any) (Stream, error) {
	resp, err := c.post(ctx, wireRequest{
		Model:    model,
		Messages: toWireMessages(messages),
		Stream:   true,
		Tools:    tools,
	})
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &sseStream{
		ctx:     ctx,
		body:    resp.Body,
		scanner: scanner,
		status:  resp.StatusCode,
		logger:  c.logger,
	}, nil
}

type sseStream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	status  int
	logger  *slog.Logger
	done    bool
}

// Recv returns the next chunk carrying a choice. Comment lines
// (OpenRouter sends ": OPENROUTER PROCESSING" keep-alives), blank lines
// and usage-only events are skipped.
func (s *sseStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			s.done = true
			return Chunk{}, io.EOF
		}

		s.logger.Log(s.ctx, config.LevelTrace, "stream event", "json", data)

		var event wireStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			s.logger.Debug("skipping malformed stream event", "error", err)
			continue
		}
		if event.Error != nil {
			s.done = true
			return Chunk{}, &APIError{StatusCode: errorStatus(event.Error, s.status), Body: event.Error.Message}
		}
		if len(event.Choices) == 0 {
			continue
		}

		choice := event.Choices[0]
		chunk := Chunk{
			Model:        event.Model,
			Content:      choice.Delta.Content,
			FinishReason: choice.FinishReason,
		}
		for i, tc := range choice.Delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			chunk.ToolCalls = append(chunk.ToolCalls, ToolCallDelta{
				Index:     idx,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		return chunk, nil
	}

	if err := s.scanner.Err(); err != nil {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return Chunk{}, ctxErr
		}
		return Chunk{}, fmt.Errorf("read stream: %w", err)
	}

	// Body ended without [DONE]; treat as end of stream.
	s.done = true
	return Chunk{}, io.EOF
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}

// errorStatus prefers a numeric code from an in-band error payload.
func errorStatus(e *wireError, fallback int) int {
	if f, ok := e.Code.(float64); ok && f > 0 {
		return int(f)
	}
	return fallback
}

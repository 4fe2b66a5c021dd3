// Package agent implements the streaming agentic loop and the chat
// session that drives it against the conversation store.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/laopeng-portal/internal/config"
	"github.com/nugget/laopeng-portal/internal/conversation"
	"github.com/nugget/laopeng-portal/internal/llm"
	"github.com/nugget/laopeng-portal/internal/tools"
)

// ErrMaxRounds is returned when the model keeps requesting tools past
// the configured round cap.
var ErrMaxRounds = errors.New("agent exceeded maximum tool rounds")

// TokenFunc receives each text fragment as it streams in, across every
// round of a turn.
type TokenFunc func(text string)

// Loop runs one assistant turn: stream a completion, execute any tool
// calls the model assembled, and repeat until it answers in text.
type Loop struct {
	client    llm.Client
	registry  *tools.Registry
	model     string
	maxRounds int
	logger    *slog.Logger
}

// NewLoop creates a loop. maxRounds <= 0 removes the round cap. A nil
// registry offers the model no tools.
func NewLoop(client llm.Client, registry *tools.Registry, model string, maxRounds int, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		client:    client,
		registry:  registry,
		model:     model,
		maxRounds: maxRounds,
		logger:    logger.With("component", "agent"),
	}
}

// Run executes a turn over history with systemPrompt first. Text is
// pushed to onToken (which may be nil) as it arrives. The returned
// string is the text of the final round only; text streamed during
// tool rounds is not part of it. A stream that yields no chunks at all
// ends the turn with an empty answer.
func (l *Loop) Run(ctx context.Context, history []conversation.Message, systemPrompt string, onToken TokenFunc) (string, error) {
	if onToken == nil {
		onToken = func(string) {}
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	var defs []map[string]any
	if l.registry != nil {
		defs = l.registry.Definitions()
	}

	start := time.Now()
	for round := 1; ; round++ {
		if l.maxRounds > 0 && round > l.maxRounds {
			l.logger.Warn("round cap reached", "max_rounds", l.maxRounds)
			return "", fmt.Errorf("%w (%d)", ErrMaxRounds, l.maxRounds)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		l.logger.Debug("requesting completion", "round", round, "model", l.model, "messages", len(msgs), "tools", len(defs))

		merged, text, received, err := l.streamRound(ctx, msgs, defs, onToken)
		if err != nil {
			return "", err
		}
		if received == 0 {
			l.logger.Debug("stream produced no chunks", "round", round)
			return "", nil
		}

		reply := merged.Message()
		if len(reply.ToolCalls) == 0 {
			l.logger.Info("turn complete",
				"rounds", round,
				"model", merged.Model,
				"finish_reason", merged.FinishReason,
				"chars", len(text),
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return text, nil
		}

		reply.Content = text
		msgs = append(msgs, reply)
		for _, tc := range reply.ToolCalls {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				Content:    l.dispatch(ctx, tc),
				ToolCallID: toolResultID(tc),
			})
		}
	}
}

// streamRound reads one completion stream to the end, folding chunks
// with [llm.Merge].
func (l *Loop) streamRound(ctx context.Context, msgs []llm.Message, defs []map[string]any, onToken TokenFunc) (llm.Chunk, string, int, error) {
	stream, err := l.client.ChatStream(ctx, l.model, msgs, defs)
	if err != nil {
		return llm.Chunk{}, "", 0, err
	}
	defer stream.Close()

	var (
		merged   llm.Chunk
		buf      strings.Builder
		received int
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return llm.Chunk{}, "", 0, err
		}
		received++

		if text := chunk.Content.String(); text != "" {
			buf.WriteString(text)
			onToken(text)
		}
		merged = llm.Merge(merged, chunk)
	}
	return merged, buf.String(), received, nil
}

// dispatch runs one tool call and renders the outcome as the text the
// model sees. Failures never abort the turn.
func (l *Loop) dispatch(ctx context.Context, tc llm.ToolCall) string {
	log := l.logger.With("tool", tc.Name, "call_id", tc.ID)

	if l.registry == nil {
		log.Warn("tool requested but no tools are registered")
		return tools.NotFoundText
	}
	if _, ok := l.registry.Get(tc.Name); !ok {
		log.Warn("model requested unknown tool")
		return tools.NotFoundText
	}

	args, err := tc.Args()
	if err != nil {
		log.Warn("tool arguments undecodable", "error", err)
		return tools.ExecutionErrorText(err)
	}

	start := time.Now()
	out, err := l.registry.Call(ctx, tc.Name, args)
	if err != nil {
		var unavailable *tools.ErrToolUnavailable
		if errors.As(err, &unavailable) {
			return tools.NotFoundText
		}
		log.Warn("tool failed", "error", err)
		return tools.ExecutionErrorText(err)
	}

	log.Debug("tool completed", "elapsed", time.Since(start).Round(time.Millisecond), "result_len", len(out))
	log.Log(ctx, config.LevelTrace, "tool result", "result", out)
	return out
}

// toolResultID correlates a result with its call: the call id when the
// provider sent one, else the tool name.
func toolResultID(tc llm.ToolCall) string {
	if tc.ID != "" {
		return tc.ID
	}
	return tc.Name
}

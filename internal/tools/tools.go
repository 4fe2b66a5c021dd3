// Package tools defines the tools the agentic loop may invoke on the
// model's behalf.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

// Handler executes a tool with schema-validated arguments and returns a
// text result for the model.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Handler     Handler
}

type entry struct {
	tool     *Tool
	resolved *jsonschema.Resolved
}

// Registry holds available tools. It is populated at startup and read
// concurrently afterwards; registration is not synchronised.
type Registry struct {
	tools  map[string]entry
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]entry),
		logger: logger,
	}
}

// NewDefaultRegistry creates a registry holding the built-in tools.
// When searcher is non-nil the web_search tool is included.
func NewDefaultRegistry(searcher Searcher, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	builtins := []*Tool{calculatorTool(), currentTimeTool(nil)}
	if searcher != nil {
		builtins = append(builtins, webSearchTool(searcher))
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool to the registry, replacing any tool with the
// same name. The schema is resolved once here so that every call can be
// validated cheaply.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", t.Name)
	}
	schema := t.Schema
	if schema == nil {
		schema = &jsonschema.Schema{Type: "object"}
		t.Schema = schema
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("tool %s: resolve schema: %w", t.Name, err)
	}
	r.tools[t.Name] = entry{tool: t, resolved: resolved}
	return nil
}

// Get retrieves a tool by exact name.
func (r *Registry) Get(name string) (*Tool, bool) {
	e, ok := r.tools[name]
	return e.tool, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the tools in OpenAI function-calling shape,
// sorted by name.
func (r *Registry) Definitions() []map[string]any {
	names := r.Names()
	result := make([]map[string]any, 0, len(names))
	for _, name := range names {
		t := r.tools[name].tool
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Schema,
			},
		})
	}
	return result
}

// Call validates args against the tool's schema and runs its handler.
// A name with no registry entry yields [*ErrToolUnavailable].
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	e, ok := r.tools[name]
	if !ok {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := e.resolved.Validate(args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	r.logger.Debug("calling tool",
		"tool", name,
		"conversation", ConversationIDFromContext(ctx),
		"agent", AgentIDFromContext(ctx),
		"args", args,
	)
	return e.tool.Handler(ctx, args)
}

package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles understood by OpenAI-compatible chat endpoints.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string // For tool responses
}

// ToolCall is a fully assembled tool invocation requested by the model.
// Arguments holds the raw JSON text exactly as the provider streamed it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Args decodes the call's JSON arguments. An empty argument string is
// an empty object, which is what models send for parameterless tools.
func (tc ToolCall) Args() (map[string]any, error) {
	raw := strings.TrimSpace(tc.Arguments)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode arguments for %s: %w", tc.Name, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// ChatResponse is the result of a non-streaming completion.
type ChatResponse struct {
	Model        string
	Message      Message
	FinishReason string

	// Token usage, when the provider reports it.
	InputTokens  int
	OutputTokens int
}

// ContentPart is one typed element of an array-valued content field.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Content is a message content field, which providers send either as a
// bare string or as a list of typed parts.
type Content struct {
	Text  string
	Parts []ContentPart
}

// UnmarshalJSON accepts a string, an array of parts, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	case data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = Content{Parts: parts}
		return nil
	}
	return fmt.Errorf("unsupported content value %.32s", data)
}

// Texts returns the plain-text fragments carried by the content: the
// bare string if non-empty, otherwise every non-empty part whose type
// is "text". Parts of any other type are ignored.
func (c Content) Texts() []string {
	if c.Text != "" {
		return []string{c.Text}
	}
	var out []string
	for _, p := range c.Parts {
		if p.Type == "text" && p.Text != "" {
			out = append(out, p.Text)
		}
	}
	return out
}

// String concatenates Texts.
func (c Content) String() string {
	return strings.Join(c.Texts(), "")
}

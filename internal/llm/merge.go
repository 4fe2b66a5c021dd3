package llm

import "sort"

// Chunk is one incremental piece of a streamed assistant response.
// Chunks combine with [Merge]; the zero Chunk is the identity.
type Chunk struct {
	Model        string
	Content      Content
	ToolCalls    []ToolCallDelta
	FinishReason string
}

// ToolCallDelta is a fragment of a tool call. Fragments sharing an
// Index belong to the same call; Arguments fragments concatenate in
// arrival order.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Merge combines two partial responses. It is associative, so a stream
// can be folded left to right in any grouping with the same result:
//   - text fragments concatenate
//   - tool call fragments group by Index, keep the first non-empty ID
//     and Name, and concatenate Arguments
//   - the first non-empty Model and the last non-empty FinishReason win
func Merge(a, b Chunk) Chunk {
	out := Chunk{
		Model:        a.Model,
		FinishReason: b.FinishReason,
	}
	if out.Model == "" {
		out.Model = b.Model
	}
	if out.FinishReason == "" {
		out.FinishReason = a.FinishReason
	}

	if text := a.Content.String() + b.Content.String(); text != "" {
		out.Content = Content{Text: text}
	}

	if len(a.ToolCalls)+len(b.ToolCalls) > 0 {
		out.ToolCalls = mergeToolCalls(a.ToolCalls, b.ToolCalls)
	}
	return out
}

func mergeToolCalls(a, b []ToolCallDelta) []ToolCallDelta {
	byIndex := make(map[int]*ToolCallDelta, len(a)+len(b))
	var order []int

	for _, list := range [][]ToolCallDelta{a, b} {
		for _, d := range list {
			cur, ok := byIndex[d.Index]
			if !ok {
				c := d
				byIndex[d.Index] = &c
				order = append(order, d.Index)
				continue
			}
			if cur.ID == "" {
				cur.ID = d.ID
			}
			if cur.Name == "" {
				cur.Name = d.Name
			}
			cur.Arguments += d.Arguments
		}
	}

	sort.Ints(order)
	out := make([]ToolCallDelta, 0, len(order))
	for _, idx := range order {
		out = append(out, *byIndex[idx])
	}
	return out
}

// Message converts a fully merged chunk into an assistant message with
// assembled tool calls.
func (c Chunk) Message() Message {
	msg := Message{
		Role:    RoleAssistant,
		Content: c.Content.String(),
	}
	for _, d := range c.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        d.ID,
			Name:      d.Name,
			Arguments: d.Arguments,
		})
	}
	return msg
}

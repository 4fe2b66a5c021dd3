package tools

import "fmt"

// Diagnostic texts fed back to the model in place of a tool result.
const (
	NotFoundText       = "工具未找到"
	executionErrPrefix = "工具执行错误: "
)

// ErrToolUnavailable is returned when a tool call targets a name that
// has no registry entry.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// ExecutionErrorText renders a handler failure as the tool result text.
func ExecutionErrorText(err error) string {
	return executionErrPrefix + err.Error()
}

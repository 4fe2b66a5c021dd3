package tools

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

type fakeSearcher struct {
	got string
	err error
}

func (f *fakeSearcher) Query(_ context.Context, prompt string) (string, error) {
	f.got = prompt
	if f.err != nil {
		return "", f.err
	}
	return "answer for " + prompt, nil
}

func TestNewDefaultRegistry(t *testing.T) {
	tests := []struct {
		name     string
		searcher Searcher
		want     []string
	}{
		{name: "no searcher", want: []string{"calculator", "get_current_time"}},
		{name: "with searcher", searcher: &fakeSearcher{}, want: []string{"calculator", "get_current_time", "web_search"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewDefaultRegistry(tt.searcher, nil)
			if err != nil {
				t.Fatalf("NewDefaultRegistry: %v", err)
			}
			if got := r.Names(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Names() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefinitions_Shape(t *testing.T) {
	r, _ := NewDefaultRegistry(nil, nil)
	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("definitions = %d, want 2", len(defs))
	}
	if defs[0]["type"] != "function" {
		t.Errorf("type = %v", defs[0]["type"])
	}
	fn, ok := defs[0]["function"].(map[string]any)
	if !ok {
		t.Fatalf("function = %T", defs[0]["function"])
	}
	if fn["name"] != "calculator" {
		t.Errorf("first tool = %v, want calculator", fn["name"])
	}
	schema, ok := fn["parameters"].(*jsonschema.Schema)
	if !ok || schema.Properties["expression"] == nil {
		t.Errorf("parameters = %#v", fn["parameters"])
	}
}

func TestCall(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Register(&Tool{
		Name: "echo",
		Schema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"x": {Type: "string"}},
			Required:   []string{"x"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return fmt.Sprint(args["x"]), nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Register(&Tool{
		Name: "boom",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("kaboom")
		},
	})

	t.Run("valid", func(t *testing.T) {
		got, err := r.Call(context.Background(), "echo", map[string]any{"x": "42"})
		if err != nil || got != "42" {
			t.Errorf("Call = %q, %v; want 42", got, err)
		}
	})

	t.Run("schema violation", func(t *testing.T) {
		if _, err := r.Call(context.Background(), "echo", map[string]any{"x": 42}); err == nil {
			t.Error("expected validation error for non-string x")
		}
		if _, err := r.Call(context.Background(), "echo", nil); err == nil {
			t.Error("expected validation error for missing x")
		}
	})

	t.Run("nil args for schemaless tool", func(t *testing.T) {
		_, err := r.Call(context.Background(), "boom", nil)
		if err == nil || err.Error() != "kaboom" {
			t.Errorf("err = %v, want kaboom", err)
		}
		if got := ExecutionErrorText(err); got != "工具执行错误: kaboom" {
			t.Errorf("ExecutionErrorText = %q", got)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := r.Call(context.Background(), "nope", nil)
		var unavailable *ErrToolUnavailable
		if !errors.As(err, &unavailable) || unavailable.ToolName != "nope" {
			t.Errorf("err = %v, want *ErrToolUnavailable", err)
		}
	})
}

func TestRegister_Rejects(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&Tool{Handler: func(context.Context, map[string]any) (string, error) { return "", nil }}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register(&Tool{Name: "x"}); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestWebSearch(t *testing.T) {
	s := &fakeSearcher{}
	r, _ := NewDefaultRegistry(s, nil)

	got, err := r.Call(context.Background(), "web_search", map[string]any{"query": "  春节申遗  "})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if s.got != "春节申遗" || !strings.HasPrefix(got, "answer for") {
		t.Errorf("searcher got %q, result %q", s.got, got)
	}

	s.err = errors.New("search error 500")
	if _, err := r.Call(context.Background(), "web_search", map[string]any{"query": "x"}); err == nil {
		t.Error("expected searcher error to propagate")
	}
}

func TestCurrentTime(t *testing.T) {
	fixed := time.Date(2026, 2, 22, 1, 5, 3, 0, time.UTC)
	tool := currentTimeTool(func() time.Time { return fixed })

	got, err := tool.Handler(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "2026/2/22 09:05:03" {
		t.Errorf("time = %q, want 2026/2/22 09:05:03", got)
	}
}

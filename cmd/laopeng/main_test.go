package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nugget/laopeng-portal/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var stdout, stderr bytes.Buffer
		if err := run(context.Background(), &stdout, &stderr, args); err != nil {
			t.Fatalf("run(%v): %v", args, err)
		}
		if !strings.Contains(stdout.String(), "Usage: laopeng") {
			t.Errorf("run(%v) output missing usage: %q", args, stdout.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command: frobnicate"},
		{"unknown flag", []string{"-verbose", "version"}, "unknown flag: -verbose"},
		{"bad output format", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"ask without question", []string{"ask"}, askUsage},
		{"ask with only agent", []string{"ask", "-agent", "poetry"}, askUsage},
		{"missing explicit config", []string{"-config", "/nonexistent/laopeng.yaml", "agents"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(context.Background(), &stdout, &stderr, tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestRun_VersionText(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"version"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := stdout.String()
	for _, key := range []string{"version:", "git_commit:", "go_version:"} {
		if !strings.Contains(out, key) {
			t.Errorf("output missing %q:\n%s", key, out)
		}
	}
}

func TestRun_VersionJSON(t *testing.T) {
	for _, args := range [][]string{
		{"-o", "json", "version"},
		{"--output=json", "version"},
		{"version", "-o=json"},
	} {
		var stdout, stderr bytes.Buffer
		if err := run(context.Background(), &stdout, &stderr, args); err != nil {
			t.Fatalf("run(%v): %v", args, err)
		}
		var info map[string]string
		if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
			t.Fatalf("run(%v) output is not JSON: %v\n%s", args, err, stdout.String())
		}
		if info["version"] == "" {
			t.Errorf("run(%v) missing version: %v", args, info)
		}
	}
}

func TestParseAskArgs(t *testing.T) {
	tests := []struct {
		args         []string
		wantAgent    string
		wantQuestion string
	}{
		{[]string{"静夜思", "是谁写的"}, "", "静夜思 是谁写的"},
		{[]string{"-agent", "poetry", "静夜思是谁写的"}, "poetry", "静夜思是谁写的"},
		{[]string{"怎么写开头", "-agent=writing"}, "writing", "怎么写开头"},
	}
	for _, tt := range tests {
		agentID, question, err := parseAskArgs(tt.args)
		if err != nil {
			t.Fatalf("parseAskArgs(%v): %v", tt.args, err)
		}
		if agentID != tt.wantAgent || question != tt.wantQuestion {
			t.Errorf("parseAskArgs(%v) = (%q, %q), want (%q, %q)",
				tt.args, agentID, question, tt.wantAgent, tt.wantQuestion)
		}
	}
}

func TestRun_AskRequiresAPIKey(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")
	path := writeConfig(t, "openrouter:\n  api_key: \"\"\n")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "ask", "你好"})
	if !errors.Is(err, config.ErrMissingAPIKey) {
		t.Fatalf("error = %v, want ErrMissingAPIKey", err)
	}
}

func TestRun_AskUnknownAgent(t *testing.T) {
	path := writeConfig(t, "openrouter:\n  api_key: test-key\n")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "ask", "-agent", "nobody", "你好"})
	if err == nil || !strings.Contains(err.Error(), "unknown agent: nobody") {
		t.Fatalf("error = %v, want unknown agent", err)
	}
}

func TestRun_Agents(t *testing.T) {
	prompts := t.TempDir()
	custom := "---\nname: 数学小助手\ndescription: 陪你练口算\n---\n你是数学小助手。"
	if err := os.WriteFile(filepath.Join(prompts, "math.md"), []byte(custom), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	path := writeConfig(t, "prompts_dir: "+prompts+"\n")

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "agents"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "default") {
		t.Errorf("default agent should be listed first:\n%s", out)
	}
	for _, want := range []string{"老彭", "写作教练", "数学小助手", "陪你练口算"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	stdout.Reset()
	if err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "-o", "json", "agents"}); err != nil {
		t.Fatalf("run json: %v", err)
	}
	var rows []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout.String())
	}
	if len(rows) != 6 {
		t.Fatalf("got %d agents, want 6", len(rows))
	}
	if rows[0].ID != "default" {
		t.Errorf("first agent = %q, want default", rows[0].ID)
	}
	if strings.Contains(stdout.String(), "systemPrompt") {
		t.Error("json listing should not include system prompts")
	}
}

func TestRun_ServeInvalidConfig(t *testing.T) {
	path := writeConfig(t, "log_level: chatty\n")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, []string{"-config", path, "serve"})
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("error = %v, want invalid config", err)
	}
}

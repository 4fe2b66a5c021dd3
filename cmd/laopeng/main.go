// Laopeng is the backend of the Laopeng educational portal.
//
// It serves the portal API (agent catalog, conversation history,
// streaming chat with tool use, the daily feeds, transcript export) and
// a small CLI for one-shot questions. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	laopeng serve                  Start the API server
//	laopeng init [dir]             Initialize a working directory with defaults
//	laopeng ask [-agent id] <q>    Ask a single question
//	laopeng agents                 List the available agents
//	laopeng version                Print version and build information
//	laopeng -o json version        Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/laopeng-portal/internal/agent"
	"github.com/nugget/laopeng-portal/internal/agents"
	"github.com/nugget/laopeng-portal/internal/api"
	"github.com/nugget/laopeng-portal/internal/buildinfo"
	"github.com/nugget/laopeng-portal/internal/config"
	"github.com/nugget/laopeng-portal/internal/conversation"
	"github.com/nugget/laopeng-portal/internal/daycache"
	"github.com/nugget/laopeng-portal/internal/feeds"
	"github.com/nugget/laopeng-portal/internal/llm"
	"github.com/nugget/laopeng-portal/internal/localstore"
	"github.com/nugget/laopeng-portal/internal/tools"
)

// main constructs the OS-level environment and delegates to [run] so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the laopeng command. Arguments are
// parsed by hand; the flag package's globals get in the way of
// parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		agentID, question, err := parseAskArgs(cmdArgs)
		if err != nil {
			return err
		}
		return runAsk(ctx, stdout, stderr, configPath, agentID, question)
	case "agents":
		return runAgents(stdout, stderr, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

const askUsage = "usage: laopeng ask [-agent id] <question>"

// parseAskArgs splits the ask arguments into an optional agent id and
// the question text.
func parseAskArgs(args []string) (agentID, question string, err error) {
	var words []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-agent" && i+1 < len(args):
			agentID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-agent="):
			agentID = strings.TrimPrefix(args[i], "-agent=")
		default:
			words = append(words, args[i])
		}
	}
	question = strings.TrimSpace(strings.Join(words, " "))
	if question == "" {
		return "", "", errors.New(askUsage)
	}
	return agentID, question, nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Laopeng - educational portal backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: laopeng [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                Start the API server")
	fmt.Fprintln(w, "  init [dir]           Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask [-agent id] <q>  Ask a single question, streaming the reply")
	fmt.Fprintln(w, "  agents               List the available agents")
	fmt.Fprintln(w, "  version              Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/laopeng/config.yaml, /etc/laopeng/config.yaml")
	return nil
}

// runAsk answers one question with an in-memory conversation, writing
// tokens to stdout as they arrive.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, agentID, question string) error {
	logger := newLogger(stderr, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	catalog, err := agents.Load(agents.DefaultFS(), cfg.PromptsDir, logger)
	if err != nil {
		return err
	}
	if agentID != "" {
		if _, ok := catalog.Get(agentID); !ok {
			return fmt.Errorf("unknown agent: %s", agentID)
		}
	}

	// Nothing to keep after a one-shot question.
	store, err := conversation.New(localstore.NewMemory(0), logger)
	if err != nil {
		return err
	}

	session := newSession(cfg, store, catalog, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_, err = session.Send(ctx, "", agentID, question, func(token string) {
		fmt.Fprint(stdout, token)
	})
	fmt.Fprintln(stdout)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	return nil
}

// runAgents prints the agent catalog.
func runAgents(stdout io.Writer, stderr io.Writer, configPath, outputFmt string) error {
	logger := newLogger(stderr, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	catalog, err := agents.Load(agents.DefaultFS(), cfg.PromptsDir, logger)
	if err != nil {
		return err
	}

	list := catalog.List()
	if outputFmt == "json" {
		type row struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		rows := make([]row, 0, len(list))
		for _, a := range list {
			rows = append(rows, row{ID: a.ID, Name: a.Name, Description: a.Description})
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	for _, a := range list {
		fmt.Fprintf(stdout, "%-18s %s\n", a.ID, a.Name)
		if a.Description != "" {
			fmt.Fprintf(stdout, "%-18s %s\n", "", a.Description)
		}
	}
	return nil
}

// runServe starts the API server and blocks until ctx is cancelled or
// a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Laopeng", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Reconfigure with the levels from config now that we have them.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = newLogger(stdout, level, cfg.LogFormat)
	if cfgPath == "" {
		logger.Info("no config file found, using defaults")
	} else {
		logger.Info("config loaded", "path", cfgPath, "log_level", level.String())
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	storage, err := localstore.Open(cfg.Storage.Driver, cfg.DatabasePath(), cfg.Storage.QuotaBytes)
	if err != nil {
		return err
	}
	defer storage.Close()
	logger.Info("storage opened", "path", cfg.DatabasePath(), "driver", cfg.Storage.Driver)

	catalog, err := agents.Load(agents.DefaultFS(), cfg.PromptsDir, logger)
	if err != nil {
		return err
	}

	store, err := conversation.New(storage, logger)
	if err != nil {
		return err
	}

	if !cfg.OpenRouter.Configured() {
		logger.Warn("openrouter api key not configured; chat will fail and feeds serve static data",
			"env", config.EnvAPIKey)
	}

	client := newClient(cfg, logger)
	fetcher := feeds.NewFetcher(client, cfg.OpenRouter.SearchModel, logger)
	session := newSessionWith(cfg, client, fetcher, store, catalog, logger)

	var loader *feeds.Loader
	if cfg.OpenRouter.Configured() {
		loader = feeds.NewLoader(fetcher, daycache.New(storage, logger), nil, logger)
	}

	server := api.NewServer(api.Deps{
		Store:    store,
		Catalog:  catalog,
		Session:  session,
		Feeds:    feeds.NewService(loader, logger),
		Defaults: cfg.Listen,
	}, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	logger.Info("Laopeng stopped")
	return nil
}

func newClient(cfg *config.Config, logger *slog.Logger) *llm.OpenRouterClient {
	return llm.NewOpenRouterClient(llm.OpenRouterOptions{
		BaseURL: cfg.OpenRouter.BaseURL,
		APIKey:  cfg.OpenRouter.APIKey,
		Referer: cfg.OpenRouter.Referer,
		Title:   cfg.OpenRouter.Title,
	}, logger)
}

func newSession(cfg *config.Config, store *conversation.Store, catalog *agents.Catalog, logger *slog.Logger) *agent.Session {
	client := newClient(cfg, logger)
	fetcher := feeds.NewFetcher(client, cfg.OpenRouter.SearchModel, logger)
	return newSessionWith(cfg, client, fetcher, store, catalog, logger)
}

// newSessionWith assembles the tool registry, the streaming loop, and
// the session coordinator around an existing client.
func newSessionWith(cfg *config.Config, client llm.Client, searcher tools.Searcher, store *conversation.Store, catalog *agents.Catalog, logger *slog.Logger) *agent.Session {
	registry, err := tools.NewDefaultRegistry(searcher, logger)
	if err != nil {
		// Built-in schemas are fixed; a failure here is a programming error.
		panic(fmt.Sprintf("register built-in tools: %v", err))
	}
	loop := agent.NewLoop(client, registry, cfg.OpenRouter.Model, cfg.Agent.MaxRounds, logger)
	return agent.NewSession(store, catalog, loop, logger)
}

// newLogger creates a structured logger writing to w. Format is "json"
// or "text" (anything else is treated as text).
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. When no
// file is found the defaults (plus environment overrides) apply.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// Package config handles Laopeng configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default model identifiers used when neither the config file nor the
// environment names one.
const (
	DefaultModel       = "deepseek/deepseek-chat-v3-0324:free"
	DefaultSearchModel = "perplexity/sonar"
	DefaultBaseURL     = "https://openrouter.ai/api/v1"
	DefaultMaxRounds   = 10
)

// Environment variables that override file settings.
const (
	EnvAPIKey      = "OPENROUTER_API_KEY"
	EnvModel       = "OPENROUTER_MODEL"
	EnvSearchModel = "OPENROUTER_SEARCH_MODEL"
)

// ErrMissingAPIKey is returned by [Config.RequireAPIKey] when no
// OpenRouter credential is configured. It is fatal for any LLM call and
// is surfaced before a request is attempted.
var ErrMissingAPIKey = errors.New("openrouter api key not configured (set " + EnvAPIKey + " or openrouter.api_key)")

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/laopeng/config.yaml, /etc/laopeng/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "laopeng", "config.yaml"))
	}

	paths = append(paths, "/etc/laopeng/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// An empty path with a nil error means no file was found and defaults apply.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", nil
}

// Config holds all Laopeng configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
	Agent      AgentConfig      `yaml:"agent"`
	Storage    StorageConfig    `yaml:"storage"`
	DataDir    string           `yaml:"data_dir"`
	PromptsDir string           `yaml:"prompts_dir"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
	// PublicURL is the externally reachable base URL, used when building
	// share links (QR codes). Empty means derive from the request.
	PublicURL string `yaml:"public_url"`
}

// OpenRouterConfig defines the LLM provider settings.
type OpenRouterConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	SearchModel string `yaml:"search_model"`
	Referer     string `yaml:"referer"`
	Title       string `yaml:"title"`
}

// Configured reports whether an API key is present.
func (c OpenRouterConfig) Configured() bool {
	return c.APIKey != ""
}

// AgentConfig tunes the streaming agentic loop.
type AgentConfig struct {
	// MaxRounds bounds the number of request/stream rounds per turn.
	// Zero or negative disables the bound.
	MaxRounds int `yaml:"max_rounds"`
}

// StorageConfig selects the durable storage backend.
type StorageConfig struct {
	// Driver is the database/sql driver: "sqlite3" (cgo, default) or
	// "sqlite" (pure Go).
	Driver string `yaml:"driver"`
	// QuotaBytes caps the total size of stored values. Zero is unlimited.
	QuotaBytes int64 `yaml:"quota_bytes"`
}

// Load reads configuration from a YAML file, then applies environment
// overrides and defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		// Expand environment variables
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		OpenRouter: OpenRouterConfig{
			BaseURL:     DefaultBaseURL,
			Model:       DefaultModel,
			SearchModel: DefaultSearchModel,
			Title:       "Laopeng Chat",
		},
		Agent:   AgentConfig{MaxRounds: DefaultMaxRounds},
		Storage: StorageConfig{Driver: "sqlite3"},
		DataDir: "./db",
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.OpenRouter.APIKey = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.OpenRouter.Model = v
	}
	if v := os.Getenv(EnvSearchModel); v != "" {
		c.OpenRouter.SearchModel = v
	}
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.OpenRouter.BaseURL == "" {
		c.OpenRouter.BaseURL = DefaultBaseURL
	}
	c.OpenRouter.BaseURL = strings.TrimRight(c.OpenRouter.BaseURL, "/")
	if c.OpenRouter.Model == "" {
		c.OpenRouter.Model = DefaultModel
	}
	if c.OpenRouter.SearchModel == "" {
		c.OpenRouter.SearchModel = DefaultSearchModel
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite3"
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
}

// Validate checks the configuration for values that would fail later
// in less obvious ways.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	switch c.Storage.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("unknown storage.driver %q (valid: sqlite3, sqlite)", c.Storage.Driver)
	}
	if c.Storage.QuotaBytes < 0 {
		return fmt.Errorf("storage.quota_bytes must not be negative")
	}
	return nil
}

// RequireAPIKey returns [ErrMissingAPIKey] when no credential is set.
func (c *Config) RequireAPIKey() error {
	if !c.OpenRouter.Configured() {
		return ErrMissingAPIKey
	}
	return nil
}

// DatabasePath returns the path of the local storage database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "laopeng.db")
}

// Package agents loads the catalog of prompt-defined agents. Each agent
// is one markdown file whose name (without .md) is the agent id and
// whose optional front matter carries a display name and description.
package agents

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// DefaultID is the agent whose prompt prefixes every other agent's.
const DefaultID = "default"

// UnknownName is the display name of an agent whose file has no usable
// front matter.
const UnknownName = "未知智能体"

// promptSeparator joins the default prompt to an agent's own prompt.
const promptSeparator = "\n\n---\n\n"

// Agent is a named system prompt selectable per conversation.
type Agent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	SystemPrompt string `json:"systemPrompt"`
}

// Catalog is the immutable set of loaded agents.
type Catalog struct {
	agents []Agent
	byID   map[string]int
}

// Load reads every *.md file at the root of fsys, then every *.md file
// in overrideDir (when non-empty and present). An override file replaces
// an embedded agent with the same id. Prompts are composed and the list
// sorted once here.
func Load(fsys fs.FS, overrideDir string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw := make(map[string]string)
	if fsys != nil {
		if err := readDir(fsys, raw); err != nil {
			return nil, fmt.Errorf("read embedded prompts: %w", err)
		}
	}
	if overrideDir != "" {
		if _, err := os.Stat(overrideDir); err == nil {
			if err := readDir(os.DirFS(overrideDir), raw); err != nil {
				return nil, fmt.Errorf("read prompts dir %s: %w", overrideDir, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat prompts dir: %w", err)
		}
	}

	list := make([]Agent, 0, len(raw))
	for id, text := range raw {
		meta, prompt, ok := parseFrontmatter(text)
		if !ok {
			logger.Debug("agent prompt has no front matter", "agent", id)
		}
		list = append(list, Agent{
			ID:           id,
			Name:         meta.name(),
			Description:  meta.description(),
			SystemPrompt: prompt,
		})
	}

	sortAgents(list)
	compose(list)

	c := &Catalog{agents: list, byID: make(map[string]int, len(list))}
	for i, a := range list {
		c.byID[a.ID] = i
	}

	logger.Info("agents loaded", "count", len(list), "override_dir", overrideDir)
	return c, nil
}

func readDir(fsys fs.FS, into map[string]string) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return fmt.Errorf("read %s: %w", e.Name(), err)
		}
		id := strings.TrimSuffix(path.Base(e.Name()), ".md")
		into[id] = string(data)
	}
	return nil
}

// sortAgents puts the default agent first and orders the rest by name
// using Chinese collation, falling back to id for equal names.
func sortAgents(list []Agent) {
	col := collate.New(language.Chinese)
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.ID == DefaultID || b.ID == DefaultID {
			return a.ID == DefaultID && b.ID != DefaultID
		}
		if c := col.CompareString(a.Name, b.Name); c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	})
}

// compose prefixes every non-default prompt with the default prompt.
func compose(list []Agent) {
	var defaultPrompt string
	for _, a := range list {
		if a.ID == DefaultID {
			defaultPrompt = a.SystemPrompt
			break
		}
	}
	if defaultPrompt == "" {
		return
	}
	for i := range list {
		if list[i].ID != DefaultID {
			list[i].SystemPrompt = defaultPrompt + promptSeparator + list[i].SystemPrompt
		}
	}
}

// List returns every agent, default first. The slice is a copy.
func (c *Catalog) List() []Agent {
	out := make([]Agent, len(c.agents))
	copy(out, c.agents)
	return out
}

// Get returns the agent with the exact id.
func (c *Catalog) Get(id string) (Agent, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Agent{}, false
	}
	return c.agents[i], true
}

// Resolve returns the agent with id, else the default agent, else the
// first loaded agent. An empty catalog yields the zero Agent.
func (c *Catalog) Resolve(id string) Agent {
	if a, ok := c.Get(id); ok {
		return a
	}
	if a, ok := c.Get(DefaultID); ok {
		return a
	}
	if len(c.agents) > 0 {
		return c.agents[0]
	}
	return Agent{}
}

// Len returns the number of loaded agents.
func (c *Catalog) Len() int {
	return len(c.agents)
}

type frontmatter struct {
	Name        *string `yaml:"name"`
	Description *string `yaml:"description"`
}

func (f frontmatter) name() string {
	if f.Name == nil || strings.TrimSpace(*f.Name) == "" {
		return UnknownName
	}
	return strings.TrimSpace(*f.Name)
}

func (f frontmatter) description() string {
	if f.Description == nil {
		return ""
	}
	return strings.TrimSpace(*f.Description)
}

// parseFrontmatter splits a leading "---" delimited metadata block from
// the prompt body. Without a block the whole trimmed text is the body
// and ok is false. A block that is not valid YAML is read line by line
// as "key: value" pairs.
//
//	---
//	name: 老彭
//	description: 通用学习助手
//	---
func parseFrontmatter(raw string) (frontmatter, string, bool) {
	var meta frontmatter

	rest, found := strings.CutPrefix(raw, "---")
	if !found {
		return meta, strings.TrimSpace(raw), false
	}
	switch {
	case strings.HasPrefix(rest, "\r\n"):
		rest = rest[2:]
	case strings.HasPrefix(rest, "\n"):
		rest = rest[1:]
	default:
		return meta, strings.TrimSpace(raw), false
	}

	var block, body string
	if strings.HasPrefix(rest, "---") {
		// Empty block.
		body = rest[3:]
	} else {
		closeIdx := strings.Index(rest, "\n---")
		if closeIdx < 0 {
			return meta, strings.TrimSpace(raw), false
		}
		block = strings.TrimSuffix(rest[:closeIdx], "\r")
		body = rest[closeIdx+4:]
	}

	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		meta = parseKeyValues(block)
	}
	return meta, strings.TrimSpace(body), true
}

func parseKeyValues(block string) frontmatter {
	var meta frontmatter
	for _, line := range strings.Split(block, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "name":
			meta.Name = &value
		case "description":
			meta.Description = &value
		}
	}
	return meta
}

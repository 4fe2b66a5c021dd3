package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/nugget/laopeng-portal/examples"
	"github.com/nugget/laopeng-portal/internal/agents"
)

// runInit initializes a Laopeng working directory: a config file, a
// data directory, and editable copies of the shipped agent prompts.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Laopeng workspace in %s\n", dir)

	for _, sub := range []string{"db", "prompts"} {
		p := filepath.Join(dir, sub)
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", p, err)
		}
	}

	// The config may hold an API key.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(w, configPath, examples.ConfigYAML, 0o600); err != nil {
		return err
	}

	prompts := agents.DefaultFS()
	err := fs.WalkDir(prompts, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".md" {
			return nil
		}

		content, err := fs.ReadFile(prompts, p)
		if err != nil {
			return fmt.Errorf("read embedded %s: %w", p, err)
		}

		destPath := filepath.Join(dir, "prompts", d.Name())
		return writeIfMissing(w, destPath, content, 0o644)
	})
	if err != nil {
		return fmt.Errorf("install prompts: %w", err)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml (or export OPENROUTER_API_KEY) and the files in prompts/ to customize your installation.")
	return nil
}

// writeIfMissing creates path with content and perm unless it already
// exists, reporting either outcome to w.
func writeIfMissing(w io.Writer, path string, content []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if errors.Is(err, fs.ErrExist) {
		fmt.Fprintf(w, "  · %s (exists, skipping)\n", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}

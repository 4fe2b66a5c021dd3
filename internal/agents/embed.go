package agents

import (
	"embed"
	"io/fs"
)

//go:embed prompts/*.md
var embedded embed.FS

// DefaultFS returns the shipped agent prompt files, rooted so that the
// *.md files sit at the top level.
func DefaultFS() fs.FS {
	sub, err := fs.Sub(embedded, "prompts")
	if err != nil {
		panic(err) // embedded path is fixed at compile time
	}
	return sub
}

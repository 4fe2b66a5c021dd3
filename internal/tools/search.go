package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Searcher answers a free-text question with a search-capable model.
type Searcher interface {
	Query(ctx context.Context, prompt string) (string, error)
}

func webSearchTool(s Searcher) *Tool {
	return &Tool{
		Name:        "web_search",
		Description: "联网搜索最新信息（新闻、事实、数据），返回带来源的简要答案。仅在需要实时或你不确定的信息时使用。",
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {
					Type:        "string",
					Description: "要搜索的问题或关键词",
				},
			},
			Required: []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			q, _ := args["query"].(string)
			q = strings.TrimSpace(q)
			if q == "" {
				return "", fmt.Errorf("query is empty")
			}
			return s.Query(ctx, q)
		},
	}
}

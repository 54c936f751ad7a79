package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashbert/nestor/internal/ai/tools"
	"github.com/ashbert/nestor/internal/websearch"
)

type webSearchTool struct {
	client *websearch.Client
}

func (t *webSearchTool) Name() string { return "web_search" }

func (t *webSearchTool) Description() string {
	return "Search the web and return a list of result titles, URLs, and snippets."
}

func (t *webSearchTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"query":       prop("string", "The search query."),
		"num_results": prop("integer", "Maximum number of results to return (default 5, max 10)."),
		"preferred_domains": map[string]any{
			"type":        "array",
			"description": "Optional domains whose results are ranked first, e.g. ['lgusd.org'].",
			"items":       map[string]any{"type": "string"},
		},
	}, "query")
}

func (t *webSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var in struct {
		Query            string   `json:"query"`
		NumResults       int      `json:"num_results"`
		PreferredDomains []string `json:"preferred_domains"`
	}
	if err := tools.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", tools.InvalidArgs("query is required")
	}

	res, err := t.client.Search(ctx, websearch.SearchRequest{
		Query:            in.Query,
		Count:            in.NumResults,
		PreferredDomains: in.PreferredDomains,
	})
	if err != nil {
		return "", err
	}
	if len(res.Results) == 0 {
		return fmt.Sprintf("No results found for %q.", res.Query), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n", res.Query)
	for i, r := range res.Results {
		fmt.Fprintf(&sb, "\n%d. %s\n   %s", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "\n   %s", r.Snippet)
		}
	}
	return sb.String(), nil
}

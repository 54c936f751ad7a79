package websearch

import (
	"net/url"
	"strings"
)

const (
	ProviderBrave = "brave"

	DefaultCount = 5
	MaxCount     = 10
)

type SearchRequest struct {
	Query string
	Count int
	// PreferredDomains are ranked ahead of other hosts; subdomains match too.
	PreferredDomains []string
}

func (r SearchRequest) Normalize() SearchRequest {
	out := r
	out.Query = strings.TrimSpace(out.Query)
	if out.Count <= 0 {
		out.Count = DefaultCount
	}
	if out.Count > MaxCount {
		out.Count = MaxCount
	}
	out.PreferredDomains = normalizeDomains(r.PreferredDomains)
	return out
}

type ResultItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

type SearchResult struct {
	Provider string       `json:"provider"`
	Query    string       `json:"query"`
	Results  []ResultItem `json:"results"`
}

func normalizeDomains(raw []string) []string {
	var out []string
	for _, d := range raw {
		d = strings.ToLower(strings.TrimSpace(d))
		if strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://") {
			u, err := url.Parse(d)
			if err != nil {
				continue
			}
			d = u.Hostname()
		}
		d = strings.Trim(d, ".")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

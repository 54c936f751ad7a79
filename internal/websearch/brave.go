package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	BraveEndpoint     = "https://api.search.brave.com/res/v1/web/search"
	braveMaxBodyBytes = 2 << 20 // 2 MiB
)

var ErrMissingAPIKey = errors.New("missing web search api key")

type Options struct {
	// Provider is currently only "brave".
	Provider string
	APIKey   string
	// Endpoint overrides the provider URL.
	Endpoint   string
	HTTPClient *http.Client
}

// Client queries a web search API.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

func NewClient(opts Options) (*Client, error) {
	provider := strings.TrimSpace(strings.ToLower(opts.Provider))
	if provider == "" {
		provider = ProviderBrave
	}
	if provider != ProviderBrave {
		return nil, fmt.Errorf("unsupported web search provider %q", opts.Provider)
	}
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = BraveEndpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid web search endpoint: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{apiKey: apiKey, endpoint: endpoint, http: hc}, nil
}

type braveWebSearchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs req and returns ranked results, at most req.Count of them.
func (c *Client) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	req = req.Normalize()
	if req.Query == "" {
		return SearchResult{}, errors.New("missing query")
	}

	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return SearchResult{}, errors.New("invalid brave search endpoint")
	}
	q := endpoint.Query()
	q.Set("q", req.Query)
	// Over-fetch so filtering and ranking still leave Count results.
	q.Set("count", strconv.Itoa(MaxCount*2))
	endpoint.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return SearchResult{}, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return SearchResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, braveMaxBodyBytes))
	if err != nil {
		return SearchResult{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("brave web search failed (status %d)", resp.StatusCode)
		}
		return SearchResult{}, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	var decoded braveWebSearchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return SearchResult{}, errors.New("invalid brave web search response")
	}

	items := make([]ResultItem, 0, len(decoded.Web.Results))
	for _, item := range decoded.Web.Results {
		u := strings.TrimSpace(item.URL)
		if u == "" {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = u
		}
		items = append(items, ResultItem{
			Title:   title,
			URL:     u,
			Snippet: strings.TrimSpace(item.Description),
		})
	}

	ranked := rank(req.Query, items, req.PreferredDomains)
	if len(ranked) > req.Count {
		ranked = ranked[:req.Count]
	}
	return SearchResult{Provider: ProviderBrave, Query: req.Query, Results: ranked}, nil
}

// StatusError is a non-2xx answer from the search API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("web search status %d: %s", e.StatusCode, e.Message)
}

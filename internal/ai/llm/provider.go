package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	DefaultMaxTokens = int64(4096)
)

// Options configures a backend adapter.
type Options struct {
	// Type is "anthropic" or "openai".
	Type      string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int64

	// HTTPClient overrides the SDK transport (tests).
	HTTPClient *http.Client
}

// NewProvider builds the adapter for opts.Type.
//
// SDK-level retries are disabled: transient failures are handled by RetryPolicy so the attempt
// budget stays in one place.
func NewProvider(opts Options) (Provider, error) {
	providerType := strings.ToLower(strings.TrimSpace(opts.Type))
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("missing provider api key")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, errors.New("missing model")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	baseURL := strings.TrimSpace(opts.BaseURL)

	switch providerType {
	case ProviderAnthropic:
		ao := []aoption.RequestOption{aoption.WithAPIKey(apiKey), aoption.WithMaxRetries(0)}
		if baseURL != "" {
			ao = append(ao, aoption.WithBaseURL(baseURL))
		}
		if opts.HTTPClient != nil {
			ao = append(ao, aoption.WithHTTPClient(opts.HTTPClient))
		}
		return &anthropicProvider{client: anthropic.NewClient(ao...), model: model, maxTokens: maxTokens}, nil
	case ProviderOpenAI:
		oo := []ooption.RequestOption{ooption.WithAPIKey(apiKey), ooption.WithMaxRetries(0)}
		if baseURL != "" {
			oo = append(oo, ooption.WithBaseURL(baseURL))
		}
		if opts.HTTPClient != nil {
			oo = append(oo, ooption.WithHTTPClient(opts.HTTPClient))
		}
		return &openAIProvider{client: openai.NewClient(oo...), model: model, maxTokens: maxTokens}, nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", opts.Type)
	}
}

func ensureCallID(id string) string {
	id = strings.TrimSpace(id)
	if id != "" {
		return id
	}
	return "call_" + uuid.NewString()
}

package llm

import (
	"fmt"
	"net/http"

	"datecoach/internal/logger"
)

// Config selects and configures the scoring provider.
type Config struct {
	// Provider is one of "gateway", "openai", "anthropic" or "mock".
	Provider string

	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
}

// OpenAIConfig holds settings for OpenAI and the OpenAI-compatible gateway.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// MockPassResponse is what the "mock" provider answers with when nothing was queued.
const MockPassResponse = `{"status":"pass","feedback":{"observed":["Mock scorer: transcript received."],"interpretation":["Mock scorer always passes."]}}`

// NewProvider creates a Provider from configuration, wrapped with logging.
// Failed calls are never retried here.
func NewProvider(cfg Config, log *logger.Logger) (Provider, error) {
	var base Provider
	var err error

	switch cfg.Provider {
	case "gateway", "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "mock":
		m := NewMockProvider()
		m.Fallback = &MockResponse{Text: MockPassResponse}
		base = m
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	return WithLogging(base, log), nil
}

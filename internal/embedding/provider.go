package embedding

import (
	"fmt"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// Provider constants
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// NewClient creates an embedder based on the provider name. All embedders
// produce vectors of exactly dim dimensions; anything else is a config error
// surfaced at embed time.
func NewClient(provider, apiKey string, dim int) (domain.Embedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive, got %d", domain.ErrInvalidInput, dim)
	}

	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI embedding provider")
		}
		return NewOpenAIClient(apiKey, dim), nil

	case ProviderMock:
		return NewMockClient(dim), nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid options: openai, mock)", provider)
	}
}

package llm

import (
	"context"
	"fmt"

	"github.com/ashureev/briefsmith/internal/config"
)

// New builds the generator for the named provider.
func New(ctx context.Context, provider string, cfg config.LLMConfig) (Generator, error) {
	switch provider {
	case config.ProviderOpenAI:
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	case config.ProviderAzure:
		return NewAzureOpenAI(cfg.AzureEndpoint, cfg.AzureAPIKey, cfg.AzureAPIVersion, cfg.AzureDeployment)
	case config.ProviderAnthropic:
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	case config.ProviderGemini:
		return NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case config.ProviderOllama:
		return NewOllama(cfg.OllamaHost, cfg.OllamaModel, nil)
	default:
		return nil, fmt.Errorf("unknown generator provider %q", provider)
	}
}

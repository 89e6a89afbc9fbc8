package embeddings

import (
	"fmt"
	"os"

	"github.com/fyrsmithlabs/repolens/internal/config"
)

// NewProvider builds the provider selected by configuration. The OpenAI
// provider falls back to OPENAI_API_KEY when no key is configured.
func NewProvider(cfg config.EmbeddingsConfig) (Provider, error) {
	switch cfg.Provider {
	case config.EmbeddingsOpenAI, "":
		key := cfg.APIKey.Value()
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:    key,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			BaseURL:   cfg.BaseURL,
		})
	case config.EmbeddingsCompatible:
		return NewCompatibleProvider(CompatibleConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey.Value(),
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

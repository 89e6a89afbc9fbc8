package embeddings

import (
	"context"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// CompatibleConfig configures a provider for any OpenAI-compatible
// embeddings endpoint, such as a local TEI gateway.
type CompatibleConfig struct {
	BaseURL string
	Model   string
	// APIKey is optional for local gateways.
	APIKey string
}

// CompatibleProvider embeds through langchaingo's OpenAI client.
type CompatibleProvider struct {
	embedder lcembeddings.Embedder
	model    string
}

var _ Provider = (*CompatibleProvider)(nil)

// NewCompatibleProvider creates the provider.
func NewCompatibleProvider(cfg CompatibleConfig) (*CompatibleProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}

	token := cfg.APIKey
	if token == "" {
		// langchaingo refuses an empty token even when the endpoint ignores it.
		token = "unused"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI-compatible client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm, lcembeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &CompatibleProvider{embedder: embedder, model: cfg.Model}, nil
}

// Model implements Provider.
func (p *CompatibleProvider) Model() string {
	return p.model
}

// Embed implements Provider.
func (p *CompatibleProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	return vectors, nil
}

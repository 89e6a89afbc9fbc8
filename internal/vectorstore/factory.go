package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/repolens/internal/config"
	"github.com/fyrsmithlabs/repolens/internal/logging"
	"github.com/fyrsmithlabs/repolens/internal/qdrant"
)

// NewStore builds the backend selected by cfg.VectorStore.Provider. The
// Qdrant backend connects immediately and fails if the server is down.
func NewStore(cfg *config.Config, logger *logging.Logger) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	switch cfg.VectorStore.Provider {
	case config.VectorStoreQdrant, "":
		client, err := qdrant.NewGRPCClient(&qdrant.ClientConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			UseTLS: cfg.Qdrant.UseTLS,
			APIKey: cfg.Qdrant.APIKey.Value(),
		}, logger.Named("qdrant"))
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		return NewQdrantStore(client, QdrantConfig{
			Collection: cfg.VectorStore.Collection,
			Dimension:  cfg.Embeddings.Dimension,
		}, logger)
	case config.VectorStoreChromem:
		return NewChromemStore(ChromemConfig{
			Path:       cfg.VectorStore.ChromemPath,
			Compress:   cfg.VectorStore.ChromemCompress,
			Collection: cfg.VectorStore.Collection,
			Dimension:  cfg.Embeddings.Dimension,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown vector store provider %q", ErrInvalidConfig, cfg.VectorStore.Provider)
	}
}

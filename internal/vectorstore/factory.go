package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/config"
)

// Config selects and configures a vector store backend.
type Config struct {
	// Backend picks the implementation: "qdrant" (default) or "chromem".
	Backend string

	Qdrant  QdrantConfig
	Chromem ChromemConfig
}

// FromAppConfig builds a store Config from the top-level application
// settings. The collection name fans out to both backends; vectorSize only
// matters for Qdrant, chromem infers it from the first upsert.
func FromAppConfig(app config.StoreConfig, vectorSize int) Config {
	return Config{
		Backend: app.Backend,
		Qdrant: QdrantConfig{
			Host:       app.Qdrant.Host,
			Port:       app.Qdrant.Port,
			APIKey:     app.Qdrant.APIKey.Value(),
			UseTLS:     app.Qdrant.UseTLS,
			Collection: app.Collection,
			VectorSize: uint64(vectorSize),
		},
		Chromem: ChromemConfig{
			Path:       app.Chromem.Path,
			Compress:   app.Chromem.Compress,
			Collection: app.Collection,
		},
	}
}

// NewStore creates a Store based on the configuration.
//
// The Backend field selects the implementation:
//   - "qdrant" (default): external Qdrant server over gRPC
//   - "chromem": embedded chromem-go database (no external deps)
func NewStore(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "qdrant", "":
		return NewQdrantStore(cfg.Qdrant)
	case "chromem":
		return NewChromemStore(cfg.Chromem, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported backend %q (supported: qdrant, chromem)", ErrInvalidConfig, cfg.Backend)
	}
}

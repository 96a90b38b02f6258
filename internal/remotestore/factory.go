package remotestore

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a remote store backend.
type Config struct {
	// Provider is the backend: "qdrant", "chromem" or "none".
	Provider string `koanf:"provider"`

	Qdrant  QdrantConfig  `koanf:"qdrant"`
	Chromem ChromemConfig `koanf:"chromem"`
}

// New creates the configured remote store backend. "none" returns a nil
// store; callers treat a nil store as no remote corpus configured.
func New(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant, logger)
	case "chromem", "":
		return NewChromemStore(cfg.Chromem, logger)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

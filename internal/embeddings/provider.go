// Package embeddings provides embedding generation via multiple providers.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nivantalabs/lessond/internal/lesson"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrUnavailable indicates no embedding capability is configured or the
	// provider cannot be reached. Callers fall back to keyword retrieval.
	ErrUnavailable = errors.New("embeddings unavailable")
)

// Provider is the interface for embedding providers.
type Provider interface {
	// EmbedQuery generates an embedding for a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "tei", "openai", "fastembed" or "none".
	Provider string `koanf:"provider"`
	// Model is the embedding model name.
	Model string `koanf:"model"`
	// BaseURL is the inference server URL (TEI provider).
	BaseURL string `koanf:"base_url"`
	// APIKey authenticates against the OpenAI API (openai provider).
	APIKey string `koanf:"api_key"`
	// CacheDir is the model cache directory (fastembed provider).
	CacheDir string `koanf:"cache_dir"`
}

// NewProvider creates an embedding provider based on the configuration.
// "none" is a valid choice: it yields a provider whose every call reports
// ErrUnavailable, which keeps the retrieval pipeline on its keyword path.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "tei", "":
		svc, err := NewService(Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, err
		}
		return &teiProvider{Service: svc, dimension: detectDimensionFromModel(cfg.Model)}, nil
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	case "fastembed":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "none":
		return noneProvider{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// EmbedLesson generates the embedding for a lesson's semantic text.
func EmbedLesson(ctx context.Context, p Provider, l *lesson.Lesson) ([]float32, error) {
	text := l.SemanticText()
	if text == "" {
		return nil, fmt.Errorf("%w: lesson has no embeddable text", ErrEmptyInput)
	}
	return p.EmbedQuery(ctx, text)
}

// detectDimensionFromModel returns the embedding dimension for a model name.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	switch {
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	default:
		return 384
	}
}

// teiProvider wraps Service to implement the Provider interface.
type teiProvider struct {
	*Service
	dimension int
}

func (t *teiProvider) Dimension() int {
	return t.dimension
}

// Close is a no-op for TEI since it uses HTTP.
func (t *teiProvider) Close() error {
	return nil
}

// noneProvider is the configured-off state. Every call reports ErrUnavailable.
type noneProvider struct{}

func (noneProvider) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrUnavailable
}

func (noneProvider) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, ErrUnavailable
}

func (noneProvider) Dimension() int { return 0 }
func (noneProvider) Close() error   { return nil }

// Package remotestore provides the shared lesson store backends.
//
// A remote store holds the cross-project lesson corpus and, unlike the local
// store, may offer vector similarity search. Every backend degrades the same
// way: when the store cannot be reached, operations fail with ErrUnavailable
// and the retrieval pipeline continues on local results alone.
package remotestore

import (
	"context"
	"errors"

	"github.com/nivantalabs/lessond/internal/lesson"
)

var (
	// ErrUnavailable indicates the remote store cannot be reached right now.
	ErrUnavailable = errors.New("remote lesson store unavailable")

	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid remote store configuration")
)

// DefaultQueryCap bounds metadata-mode queries against the remote corpus.
const DefaultQueryCap = 50

// DefaultScoreThreshold drops near-noise similarity matches at the store.
const DefaultScoreThreshold = 0.15

// MetadataQuery selects remote lessons without vector search.
type MetadataQuery struct {
	// ProjectType admits lessons declaring it or declaring none.
	ProjectType string

	// TechStacks admits lessons whose declared tech overlaps any entry,
	// plus lessons declaring no tech.
	TechStacks []string

	// Category restricts to one category when set.
	Category lesson.Category

	// MinConfidence drops lessons below the threshold.
	MinConfidence float64

	// Limit caps results. Zero means DefaultQueryCap.
	Limit int
}

// SemanticMatch pairs a remote lesson with its raw similarity score.
type SemanticMatch struct {
	Lesson lesson.Lesson

	// Similarity is the backend's cosine similarity in [0, 1].
	Similarity float64
}

// Store is the remote lesson store contract.
//
// Counter and confidence updates are field-level atomic per lesson: two
// concurrent increments of the same counter both land.
type Store interface {
	// Query returns lessons matching the metadata query, ordered by
	// confidence descending.
	Query(ctx context.Context, q MetadataQuery) ([]lesson.Lesson, error)

	// SimilaritySearch returns up to limit lessons nearest to the query
	// vector, above the similarity threshold, ordered most similar first.
	SimilaritySearch(ctx context.Context, vector []float32, limit int, threshold float64) ([]SemanticMatch, error)

	// Upsert stores a lesson and its embedding, replacing any lesson with
	// the same normalized title. A nil embedding stores metadata only.
	Upsert(ctx context.Context, l *lesson.Lesson, embedding []float32) error

	// IncrementCounter atomically increments one counter field on the
	// lesson with the given title.
	IncrementCounter(ctx context.Context, title, field string) error

	// AdjustConfidence applies a clamped confidence delta to the lesson
	// with the given title.
	AdjustConfidence(ctx context.Context, title string, delta float64) error

	// Close releases backend resources.
	Close() error
}

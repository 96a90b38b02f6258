package remotestore

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/nivantalabs/lessond/internal/lesson"
)

// ChromemConfig holds configuration for the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string `koanf:"path"`

	// Collection is the lesson collection name.
	Collection string `koanf:"collection"`

	// Compress enables gzip compression for stored vectors.
	Compress bool `koanf:"compress"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "lessons"
	}
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path required", ErrInvalidConfig)
	}
	return nil
}

// catalogEntry pairs a lesson with its stored embedding so payload updates
// can re-add the vector without re-embedding.
type catalogEntry struct {
	Lesson    lesson.Lesson
	Embedding []float32
}

// ChromemStore is a Store backed by the embedded chromem-go vector database.
//
// chromem collections expose vector search but no payload scanning, so the
// store keeps a gob catalog alongside the database: the catalog serves
// metadata queries and counter updates, the collection serves similarity
// search. Both are keyed by normalized title.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger

	mu      sync.RWMutex
	catalog map[string]catalogEntry
}

// NewChromemStore opens (or creates) the embedded store at the configured path.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(config.Path, 0700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := chromem.NewPersistentDB(filepath.Join(config.Path, "vectors"), config.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	// Embeddings are always supplied by the caller, so the collection's own
	// embedding func must never run.
	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem store requires precomputed embeddings")
	}
	collection, err := db.GetOrCreateCollection(config.Collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", config.Collection, err)
	}

	s := &ChromemStore{
		db:         db,
		collection: collection,
		config:     config,
		logger:     logger,
		catalog:    make(map[string]catalogEntry),
	}
	s.loadCatalog()

	logger.Info("chromem lesson store ready",
		zap.String("path", config.Path),
		zap.String("collection", config.Collection),
		zap.Int("lessons", len(s.catalog)))

	return s, nil
}

func (s *ChromemStore) catalogPath() string {
	return filepath.Join(s.config.Path, "catalog.gob")
}

// loadCatalog restores the lesson catalog. A missing or corrupt catalog
// starts empty; the vector collection is then effectively orphaned but the
// store stays usable.
func (s *ChromemStore) loadCatalog() {
	f, err := os.Open(s.catalogPath())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cannot open lesson catalog, starting empty", zap.Error(err))
		}
		return
	}
	defer f.Close()

	var catalog map[string]catalogEntry
	if err := gob.NewDecoder(f).Decode(&catalog); err != nil {
		s.logger.Warn("cannot decode lesson catalog, starting empty", zap.Error(err))
		return
	}
	s.catalog = catalog
}

// flushCatalog persists the catalog via temp file + rename.
func (s *ChromemStore) flushCatalog() error {
	s.mu.RLock()
	snapshot := make(map[string]catalogEntry, len(s.catalog))
	for k, v := range s.catalog {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	tmp, err := os.CreateTemp(s.config.Path, ".catalog-*.gob")
	if err != nil {
		return fmt.Errorf("creating temp catalog: %w", err)
	}
	tmpName := tmp.Name()

	if err := gob.NewEncoder(tmp).Encode(snapshot); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encoding catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp catalog: %w", err)
	}
	if err := os.Rename(tmpName, s.catalogPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing catalog: %w", err)
	}
	return nil
}

// Query returns lessons matching the metadata query, ordered by confidence
// descending.
func (s *ChromemStore) Query(_ context.Context, q MetadataQuery) ([]lesson.Lesson, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryCap
	}

	s.mu.RLock()
	lessons := make([]lesson.Lesson, 0, len(s.catalog))
	for _, entry := range s.catalog {
		l := entry.Lesson
		if q.Category != "" && l.Category != q.Category {
			continue
		}
		if l.Confidence < q.MinConfidence {
			continue
		}
		if !admits(&l, q) {
			continue
		}
		lessons = append(lessons, l)
	}
	s.mu.RUnlock()

	sort.Slice(lessons, func(i, j int) bool {
		if lessons[i].Confidence != lessons[j].Confidence {
			return lessons[i].Confidence > lessons[j].Confidence
		}
		return lessons[i].Key() < lessons[j].Key()
	})
	if len(lessons) > limit {
		lessons = lessons[:limit]
	}
	return lessons, nil
}

// SimilaritySearch returns lessons nearest to the query vector above the
// similarity threshold.
func (s *ChromemStore) SimilaritySearch(ctx context.Context, vector []float32, limit int, threshold float64) ([]SemanticMatch, error) {
	if limit <= 0 {
		return nil, nil
	}
	if threshold <= 0 {
		threshold = DefaultScoreThreshold
	}

	// chromem rejects limits above the collection size.
	if count := s.collection.Count(); count == 0 {
		return nil, nil
	} else if limit > count {
		limit = count
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]SemanticMatch, 0, len(results))
	for _, r := range results {
		if float64(r.Similarity) < threshold {
			continue
		}
		entry, ok := s.catalog[r.ID]
		if !ok {
			// Vector without a catalog row, likely from a torn earlier
			// write. Skip rather than surface a half-built lesson.
			s.logger.Warn("vector result missing from catalog", zap.String("id", r.ID))
			continue
		}
		matches = append(matches, SemanticMatch{Lesson: entry.Lesson, Similarity: float64(r.Similarity)})
	}
	return matches, nil
}

// Upsert stores a lesson and its embedding, replacing any lesson with the
// same normalized title.
func (s *ChromemStore) Upsert(ctx context.Context, l *lesson.Lesson, embedding []float32) error {
	if err := l.Validate(); err != nil {
		return err
	}
	key := l.Key()

	if embedding != nil {
		// Replace the vector document. chromem has no in-place update, so
		// delete then re-add.
		if err := s.collection.Delete(ctx, nil, nil, key); err != nil {
			s.logger.Debug("deleting previous vector", zap.String("title", l.Title), zap.Error(err))
		}
		err := s.collection.AddDocument(ctx, chromem.Document{
			ID:        key,
			Embedding: embedding,
			Content:   l.SemanticText(),
			Metadata:  map[string]string{"category": string(l.Category)},
		})
		if err != nil {
			return fmt.Errorf("adding lesson vector: %w", err)
		}
	}

	s.mu.Lock()
	s.catalog[key] = catalogEntry{Lesson: *l, Embedding: embedding}
	s.mu.Unlock()

	return s.flushCatalog()
}

// IncrementCounter atomically increments one counter field on a lesson.
func (s *ChromemStore) IncrementCounter(_ context.Context, title, field string) error {
	return s.updateLesson(title, func(l *lesson.Lesson) {
		switch field {
		case lesson.FieldTimesSurfaced:
			l.TimesSurfaced++
		case lesson.FieldTimesHelpful:
			l.TimesHelpful++
		case lesson.FieldTimesNotHelpful:
			l.TimesNotHelpful++
		case lesson.FieldFrequency:
			l.Frequency++
		case lesson.FieldUpvotes:
			l.Upvotes++
		case lesson.FieldDownvotes:
			l.Downvotes++
		}
	})
}

// AdjustConfidence applies a clamped confidence delta to a lesson.
func (s *ChromemStore) AdjustConfidence(_ context.Context, title string, delta float64) error {
	return s.updateLesson(title, func(l *lesson.Lesson) {
		l.AdjustConfidence(delta)
	})
}

// updateLesson applies a mutation to a catalog lesson under the write lock.
// Counter and confidence changes never touch the vector, so the collection
// document stays as-is.
func (s *ChromemStore) updateLesson(title string, mutate func(*lesson.Lesson)) error {
	key := lesson.NormalizeTitle(title)

	s.mu.Lock()
	entry, ok := s.catalog[key]
	if ok {
		mutate(&entry.Lesson)
		s.catalog[key] = entry
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", lesson.ErrNotFound, title)
	}
	return s.flushCatalog()
}

// Close persists the catalog one last time.
func (s *ChromemStore) Close() error {
	return s.flushCatalog()
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)

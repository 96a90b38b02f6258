package retrieval

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nivantalabs/lessond/internal/embeddings"
	"github.com/nivantalabs/lessond/internal/lesson"
	"github.com/nivantalabs/lessond/internal/localstore"
	"github.com/nivantalabs/lessond/internal/remotestore"
)

// fakeRemote is an in-memory remotestore.Store with scriptable failures.
type fakeRemote struct {
	mu      sync.Mutex
	lessons map[string]lesson.Lesson
	matches []remotestore.SemanticMatch

	unavailable bool

	counters map[string]map[string]int
	deltas   map[string]float64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		lessons:  make(map[string]lesson.Lesson),
		counters: make(map[string]map[string]int),
		deltas:   make(map[string]float64),
	}
}

func (f *fakeRemote) put(l lesson.Lesson) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lessons[l.Key()] = l
}

func (f *fakeRemote) Query(_ context.Context, q remotestore.MetadataQuery) ([]lesson.Lesson, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, remotestore.ErrUnavailable
	}
	var out []lesson.Lesson
	for _, l := range f.lessons {
		if l.Confidence >= q.MinConfidence {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeRemote) SimilaritySearch(_ context.Context, _ []float32, limit int, threshold float64) ([]remotestore.SemanticMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, remotestore.ErrUnavailable
	}
	var out []remotestore.SemanticMatch
	for _, m := range f.matches {
		if m.Similarity >= threshold {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRemote) Upsert(_ context.Context, l *lesson.Lesson, _ []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return remotestore.ErrUnavailable
	}
	f.lessons[l.Key()] = *l
	return nil
}

func (f *fakeRemote) IncrementCounter(_ context.Context, title, field string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return remotestore.ErrUnavailable
	}
	key := lesson.NormalizeTitle(title)
	if f.counters[key] == nil {
		f.counters[key] = make(map[string]int)
	}
	f.counters[key][field]++
	return nil
}

func (f *fakeRemote) AdjustConfidence(_ context.Context, title string, delta float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return remotestore.ErrUnavailable
	}
	f.deltas[lesson.NormalizeTitle(title)] += delta
	return nil
}

func (f *fakeRemote) Close() error { return nil }

func (f *fakeRemote) counter(title, field string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[lesson.NormalizeTitle(title)][field]
}

var _ remotestore.Store = (*fakeRemote)(nil)

// fakeEmbedder returns fixed vectors, or ErrUnavailable when down.
type fakeEmbedder struct {
	down bool
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.down {
		return nil, embeddings.ErrUnavailable
	}
	return []float32{1, 0, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.down {
		return nil, embeddings.ErrUnavailable
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 4 }
func (f *fakeEmbedder) Close() error   { return nil }

var _ embeddings.Provider = (*fakeEmbedder)(nil)

// newLocal opens a fresh local store in a temp dir.
func newLocal(t *testing.T) *localstore.Store {
	t.Helper()
	s, err := localstore.Open(filepath.Join(t.TempDir(), "lessons.json"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// build constructs a lesson with common fields set.
func build(t *testing.T, title string, cat lesson.Category, conf float64, mutate func(*lesson.Lesson)) *lesson.Lesson {
	t.Helper()
	l, err := lesson.New(title, cat)
	require.NoError(t, err)
	l.Description = "description of " + title
	l.Recommendation = "recommendation for " + title
	l.Confidence = conf
	if mutate != nil {
		mutate(l)
	}
	return l
}

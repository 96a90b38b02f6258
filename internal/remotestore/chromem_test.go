package remotestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nivantalabs/lessond/internal/lesson"
)

func newChromem(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{Path: t.TempDir()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mkLesson(t *testing.T, title string, cat lesson.Category, conf float64) *lesson.Lesson {
	t.Helper()
	l, err := lesson.New(title, cat)
	require.NoError(t, err)
	l.Description = "about " + title
	l.Confidence = conf
	return l
}

// unit vectors on distinct axes give exact cosine similarities.
func axis(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

func TestChromem_UpsertAndQuery(t *testing.T) {
	s := newChromem(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, mkLesson(t, "High confidence", lesson.CategoryWorkflow, 0.9), axis(4, 0)))
	require.NoError(t, s.Upsert(ctx, mkLesson(t, "Low confidence", lesson.CategoryWorkflow, 0.3), axis(4, 1)))

	got, err := s.Query(ctx, MetadataQuery{MinConfidence: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "High confidence", got[0].Title)
}

func TestChromem_QueryOrderedByConfidence(t *testing.T) {
	s := newChromem(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, mkLesson(t, "Mid", lesson.CategoryWorkflow, 0.5), nil))
	require.NoError(t, s.Upsert(ctx, mkLesson(t, "Top", lesson.CategoryWorkflow, 0.9), nil))
	require.NoError(t, s.Upsert(ctx, mkLesson(t, "Bottom", lesson.CategoryWorkflow, 0.2), nil))

	got, err := s.Query(ctx, MetadataQuery{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Top", got[0].Title)
	assert.Equal(t, "Mid", got[1].Title)
	assert.Equal(t, "Bottom", got[2].Title)
}

func TestChromem_UpsertReplacesByTitle(t *testing.T) {
	s := newChromem(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, mkLesson(t, "Same Lesson", lesson.CategoryWorkflow, 0.5), axis(4, 0)))

	updated := mkLesson(t, "  same lesson ", lesson.CategoryPitfall, 0.8)
	require.NoError(t, s.Upsert(ctx, updated, axis(4, 1)))

	got, err := s.Query(ctx, MetadataQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, lesson.CategoryPitfall, got[0].Category)
	assert.InDelta(t, 0.8, got[0].Confidence, 1e-9)
}

func TestChromem_SimilaritySearch(t *testing.T) {
	s := newChromem(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, mkLesson(t, "Exact match", lesson.CategoryArchitecture, 0.8), axis(4, 0)))
	require.NoError(t, s.Upsert(ctx, mkLesson(t, "Orthogonal", lesson.CategoryArchitecture, 0.8), axis(4, 1)))

	matches, err := s.SimilaritySearch(ctx, axis(4, 0), 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Exact match", matches[0].Lesson.Title)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-5)
}

func TestChromem_SimilaritySearchEmptyCollection(t *testing.T) {
	s := newChromem(t)

	matches, err := s.SimilaritySearch(context.Background(), axis(4, 0), 10, 0.15)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromem_SimilaritySearchZeroLimit(t *testing.T) {
	s := newChromem(t)
	require.NoError(t, s.Upsert(context.Background(), mkLesson(t, "Any", lesson.CategoryWorkflow, 0.7), axis(4, 0)))

	matches, err := s.SimilaritySearch(context.Background(), axis(4, 0), 0, 0.15)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromem_Counters(t *testing.T) {
	s := newChromem(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, mkLesson(t, "Tracked", lesson.CategoryTesting, 0.7), nil))

	require.NoError(t, s.IncrementCounter(ctx, "tracked", lesson.FieldTimesSurfaced))
	require.NoError(t, s.IncrementCounter(ctx, "tracked", lesson.FieldTimesHelpful))
	require.NoError(t, s.AdjustConfidence(ctx, "tracked", 0.02))

	got, err := s.Query(ctx, MetadataQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].TimesSurfaced)
	assert.Equal(t, 1, got[0].TimesHelpful)
	assert.InDelta(t, 0.72, got[0].Confidence, 1e-9)

	err = s.IncrementCounter(ctx, "unknown", lesson.FieldTimesHelpful)
	assert.ErrorIs(t, err, lesson.ErrNotFound)
}

func TestChromem_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, mkLesson(t, "Durable", lesson.CategoryDeployment, 0.6), axis(4, 2)))
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Query(ctx, MetadataQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Durable", got[0].Title)

	matches, err := reopened.SimilaritySearch(ctx, axis(4, 2), 5, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Durable", matches[0].Lesson.Title)
}

func TestFactory(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		s, err := New(Config{Provider: "none"}, nil)
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("chromem", func(t *testing.T) {
		s, err := New(Config{Provider: "chromem", Chromem: ChromemConfig{Path: t.TempDir()}}, nil)
		require.NoError(t, err)
		require.NotNil(t, s)
		s.Close()
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New(Config{Provider: "pinecone"}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

package remotestore

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nivantalabs/lessond/internal/lesson"
)

func TestQdrantConfig_Defaults(t *testing.T) {
	cfg := QdrantConfig{VectorSize: 384}
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, "lessons", cfg.Collection)
	assert.NoError(t, cfg.Validate())
}

func TestQdrantConfig_Validate(t *testing.T) {
	cfg := QdrantConfig{Host: "localhost", Port: 6334, Collection: "lessons"}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, "missing vector size")

	cfg = QdrantConfig{Host: "localhost", Port: -1, Collection: "lessons", VectorSize: 384}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, "bad port")
}

func TestPayloadRoundTrip(t *testing.T) {
	l, err := lesson.New("Use RLS policies from day one", lesson.CategoryArchitecture)
	require.NoError(t, err)
	l.Description = "Retrofitting row-level security is painful."
	l.Context = "Any multi-tenant Postgres schema."
	l.Recommendation = "Enable RLS when creating each table."
	l.Confidence = 0.85
	l.Frequency = 3
	l.ProjectTypes = []string{"saas"}
	l.TechStacks = []string{"supabase", "postgres"}
	l.Tags = []string{"security"}
	l.TimesSurfaced = 7
	l.TimesHelpful = 4
	l.TimesNotHelpful = 1
	l.Upvotes = 2
	l.CreatedAt = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	l.UpdatedAt = time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)

	got, err := payloadToLesson(lessonToPayload(l))
	require.NoError(t, err)

	assert.Equal(t, l.Title, got.Title)
	assert.Equal(t, l.Category, got.Category)
	assert.Equal(t, l.Description, got.Description)
	assert.Equal(t, l.Context, got.Context)
	assert.Equal(t, l.Recommendation, got.Recommendation)
	assert.InDelta(t, l.Confidence, got.Confidence, 1e-9)
	assert.Equal(t, l.Frequency, got.Frequency)
	assert.Equal(t, l.ProjectTypes, got.ProjectTypes)
	assert.Equal(t, l.TechStacks, got.TechStacks)
	assert.Equal(t, l.Tags, got.Tags)
	assert.Equal(t, l.TimesSurfaced, got.TimesSurfaced)
	assert.Equal(t, l.TimesHelpful, got.TimesHelpful)
	assert.Equal(t, l.TimesNotHelpful, got.TimesNotHelpful)
	assert.Equal(t, l.Upvotes, got.Upvotes)
	assert.True(t, l.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, l.UpdatedAt.Equal(got.UpdatedAt))
}

func TestPayloadToLesson_MissingTitle(t *testing.T) {
	_, err := payloadToLesson(map[string]*qdrant.Value{})
	assert.ErrorIs(t, err, lesson.ErrEmptyTitle)
}

func TestPointID_StableAcrossCaseAndWhitespace(t *testing.T) {
	a := pointID("Use RLS Policies")
	b := pointID("  use rls policies ")
	assert.Equal(t, a.String(), b.String())

	c := pointID("a different lesson")
	assert.NotEqual(t, a.String(), c.String())
}

func TestPlaceholderVector(t *testing.T) {
	const dim = 384
	v := placeholderVector(dim)
	require.Len(t, v, dim)

	// Unit length: a defined cosine direction, unlike the zero vector.
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)

	// Against a normalized real embedding the similarity stays below the
	// default threshold, so placeholders do not pollute search results.
	uniform := float32(1.0 / math.Sqrt(dim))
	var sim float64
	for _, x := range v {
		sim += float64(x) * float64(uniform)
	}
	assert.Less(t, sim, DefaultScoreThreshold)

	assert.Empty(t, placeholderVector(0))
}

func TestClassify(t *testing.T) {
	unavailable := status.Error(grpccodes.Unavailable, "connection refused")
	assert.ErrorIs(t, classify("query", unavailable), ErrUnavailable)

	deadline := status.Error(grpccodes.DeadlineExceeded, "timeout")
	assert.ErrorIs(t, classify("query", deadline), ErrUnavailable)

	invalid := status.Error(grpccodes.InvalidArgument, "bad filter")
	assert.NotErrorIs(t, classify("query", invalid), ErrUnavailable)

	plain := errors.New("something else")
	assert.NotErrorIs(t, classify("query", plain), ErrUnavailable)
}

func TestAdmits(t *testing.T) {
	declared := &lesson.Lesson{
		Title:        "Declared",
		ProjectTypes: []string{"saas"},
		TechStacks:   []string{"supabase"},
	}
	generic := &lesson.Lesson{Title: "Generic"}

	t.Run("declared match", func(t *testing.T) {
		assert.True(t, admits(declared, MetadataQuery{ProjectType: "saas", TechStacks: []string{"supabase"}}))
	})
	t.Run("declared miss", func(t *testing.T) {
		assert.False(t, admits(declared, MetadataQuery{ProjectType: "cli"}))
		assert.False(t, admits(declared, MetadataQuery{TechStacks: []string{"rust"}}))
	})
	t.Run("generic always admitted", func(t *testing.T) {
		assert.True(t, admits(generic, MetadataQuery{ProjectType: "cli", TechStacks: []string{"rust"}}))
	})
}

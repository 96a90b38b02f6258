package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nivantalabs/lessond/internal/lesson"
	"github.com/nivantalabs/lessond/internal/remotestore"
)

func TestGetRelevantLessons_HybridMergeAndPhaseFilter(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	ctx := context.Background()

	// The same architecture lesson lives in both stores with diverged state.
	rls := build(t, "Use RLS policies from day one", lesson.CategoryArchitecture, 0.9, func(l *lesson.Lesson) {
		l.ProjectTypes = []string{"saas"}
		l.TechStacks = []string{"supabase"}
	})
	require.NoError(t, local.Upsert(rls))

	remoteRLS := *rls
	remoteRLS.Confidence = 0.85
	remote.matches = []remotestore.SemanticMatch{{Lesson: remoteRLS, Similarity: 0.8}}

	// A generic pitfall only known locally.
	creep := build(t, "Avoid scope creep", lesson.CategoryPitfall, 0.8, nil)
	require.NoError(t, local.Upsert(creep))

	b := New(local,
		WithRemote(remote),
		WithEmbedder(&fakeEmbedder{}),
		WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(b.WaitForTracking)

	t.Run("no phase returns both, best first", func(t *testing.T) {
		got := b.GetRelevantLessons(ctx, Query{
			ProjectType: "saas",
			TechStacks:  []string{"supabase"},
			Limit:       DefaultLimit,
		})
		require.Len(t, got, 2)

		assert.Equal(t, "Use RLS policies from day one", got[0].Title)
		assert.InDelta(t, 0.9, got[0].Confidence, 1e-9, "merged confidence is the max of both stores")
		assert.Equal(t, 2, got[0].Frequency, "merged frequency sums both observations")

		assert.Equal(t, "Avoid scope creep", got[1].Title)
	})

	t.Run("planning phase drops the pitfall", func(t *testing.T) {
		got := b.GetRelevantLessons(ctx, Query{
			ProjectType: "saas",
			TechStacks:  []string{"supabase"},
			Phase:       lesson.PhasePlanning,
			Limit:       DefaultLimit,
		})
		require.Len(t, got, 1)
		assert.Equal(t, "Use RLS policies from day one", got[0].Title)
	})

	t.Run("unknown phase fails open", func(t *testing.T) {
		got := b.GetRelevantLessons(ctx, Query{
			ProjectType: "saas",
			TechStacks:  []string{"supabase"},
			Phase:       lesson.Phase("vibing"),
			Limit:       DefaultLimit,
		})
		assert.Len(t, got, 2)
	})
}

func TestGetRelevantLessons_NonPositiveLimit(t *testing.T) {
	b := New(newLocal(t))
	assert.Empty(t, b.GetRelevantLessons(context.Background(), Query{ProjectType: "saas"}))
	assert.Empty(t, b.GetRelevantLessons(context.Background(), Query{ProjectType: "saas", Limit: -3}))
}

func TestGetRelevantLessons_SurfacingCounters(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	ctx := context.Background()

	shared := build(t, "Shared lesson", lesson.CategoryWorkflow, 0.8, nil)
	require.NoError(t, local.Upsert(shared))
	remote.matches = []remotestore.SemanticMatch{{Lesson: *shared, Similarity: 0.9}}

	b := New(local, WithRemote(remote), WithEmbedder(&fakeEmbedder{}), WithLogger(zaptest.NewLogger(t)))

	got := b.GetRelevantLessons(ctx, Query{ProjectType: "saas", Limit: DefaultLimit})
	require.Len(t, got, 1)
	b.WaitForTracking()

	fromLocal, err := local.Get("shared lesson")
	require.NoError(t, err)
	assert.Equal(t, 1, fromLocal.TimesSurfaced, "local origin store is incremented")
	assert.Equal(t, 1, remote.counter("shared lesson", lesson.FieldTimesSurfaced), "remote origin store is incremented")
}

func TestGetRelevantLessons_RemoteUnavailableDegrades(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	remote.unavailable = true

	require.NoError(t, local.Upsert(build(t, "Local survivor", lesson.CategoryWorkflow, 0.8, nil)))

	b := New(local, WithRemote(remote), WithEmbedder(&fakeEmbedder{}), WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(b.WaitForTracking)

	got := b.GetRelevantLessons(context.Background(), Query{ProjectType: "saas", Limit: DefaultLimit})
	require.Len(t, got, 1)
	assert.Equal(t, "Local survivor", got[0].Title)
}

func TestGetRelevantLessons_EmbedderDownUsesMetadataFallback(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()

	remote.put(*build(t, "Remote only wisdom", lesson.CategoryWorkflow, 0.9, nil))

	b := New(local, WithRemote(remote), WithEmbedder(&fakeEmbedder{down: true}), WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(b.WaitForTracking)

	got := b.GetRelevantLessons(context.Background(), Query{ProjectType: "saas", Limit: DefaultLimit})
	require.Len(t, got, 1)
	assert.Equal(t, "Remote only wisdom", got[0].Title)
}

func TestGetRelevantLessons_GenericLessonSurvivesMismatchedContext(t *testing.T) {
	local := newLocal(t)
	require.NoError(t, local.Upsert(build(t, "Write things down", lesson.CategoryWorkflow, 0.8, nil)))

	b := New(local)
	t.Cleanup(b.WaitForTracking)

	got := b.GetRelevantLessons(context.Background(), Query{
		ProjectType: "embedded",
		TechStacks:  []string{"rust", "zig"},
		Limit:       DefaultLimit,
	})
	require.Len(t, got, 1, "generic lessons get neutral overlap, never zero")
}

func TestSemanticSearch(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	ctx := context.Background()

	t.Run("semantic path returns raw similarity", func(t *testing.T) {
		hit := build(t, "Vector hit", lesson.CategoryArchitecture, 0.8, nil)
		remote.matches = []remotestore.SemanticMatch{{Lesson: *hit, Similarity: 0.73}}

		b := New(local, WithRemote(remote), WithEmbedder(&fakeEmbedder{}))
		got := b.SemanticSearch(ctx, "vector databases", DefaultSearchLimit)
		require.Len(t, got, 1)
		assert.InDelta(t, 0.73, got[0].Similarity, 1e-9)
	})

	t.Run("keyword fallback normalizes into similarity range", func(t *testing.T) {
		require.NoError(t, local.Upsert(build(t, "Pin dependency versions", lesson.CategoryTooling, 0.8, nil)))

		b := New(local) // no remote, no embedder
		got := b.SemanticSearch(ctx, "pin versions", DefaultSearchLimit)
		require.Len(t, got, 1)
		assert.Equal(t, "Pin dependency versions", got[0].Lesson.Title)
		assert.LessOrEqual(t, got[0].Similarity, 1.0)
		assert.Greater(t, got[0].Similarity, 0.0)
	})

	t.Run("empty query or limit", func(t *testing.T) {
		b := New(local)
		assert.Empty(t, b.SemanticSearch(ctx, "  ", DefaultSearchLimit))
		assert.Empty(t, b.SemanticSearch(ctx, "anything", 0))
	})
}

func TestGetGotchas(t *testing.T) {
	local := newLocal(t)

	pit := build(t, "Unpinned dependencies break CI", lesson.CategoryPitfall, 0.8, nil)
	pit.Description = "A transitive bump broke the build."
	pit.Recommendation = "Commit lockfiles."
	require.NoError(t, local.Upsert(pit))
	require.NoError(t, local.Upsert(build(t, "Plan before coding", lesson.CategoryWorkflow, 0.8, nil)))

	b := New(local)
	t.Cleanup(b.WaitForTracking)

	got := b.GetGotchas(context.Background(), Query{ProjectType: "saas"}, DefaultGotchaLimit)
	require.Len(t, got, 1, "only pitfalls become gotchas")
	assert.Equal(t, "- **Unpinned dependencies break CI**: A transitive bump broke the build. → Commit lockfiles.", got[0])

	assert.Empty(t, b.GetGotchas(context.Background(), Query{ProjectType: "saas"}, 0))
}

func TestGetArchitectureLessons(t *testing.T) {
	local := newLocal(t)
	require.NoError(t, local.Upsert(build(t, "Layer your services", lesson.CategoryArchitecture, 0.9, nil)))
	require.NoError(t, local.Upsert(build(t, "Unrelated habit", lesson.CategoryWorkflow, 0.9, nil)))

	b := New(local)
	t.Cleanup(b.WaitForTracking)

	got := b.GetArchitectureLessons(context.Background(), "saas", DefaultArchitectureLimit)
	require.Len(t, got, 1)
	assert.Equal(t, "Layer your services", got[0].Title)
}

func TestGetPatternsForFeature(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	ctx := context.Background()

	t.Run("semantic blend favors keyword-relevant lessons", func(t *testing.T) {
		offTopic := build(t, "Unrelated caching note", lesson.CategoryArchitecture, 0.8, nil)
		onTopic := build(t, "Auth flows need retries", lesson.CategoryArchitecture, 0.8, nil)
		remote.matches = []remotestore.SemanticMatch{
			{Lesson: *offTopic, Similarity: 0.9},
			{Lesson: *onTopic, Similarity: 0.5},
		}

		b := New(local, WithRemote(remote), WithEmbedder(&fakeEmbedder{}))
		t.Cleanup(b.WaitForTracking)
		got := b.GetPatternsForFeature(ctx, "auth flows", Query{ProjectType: "saas"}, DefaultPatternLimit)
		require.Len(t, got, 2)
		assert.Equal(t, "Auth flows need retries", got[0].Title,
			"keyword boost outweighs raw similarity")
	})

	t.Run("keyword fallback without semantic capability", func(t *testing.T) {
		require.NoError(t, local.Upsert(build(t, "Webhook handlers must be idempotent", lesson.CategoryArchitecture, 0.8, nil)))
		require.NoError(t, local.Upsert(build(t, "Take breaks", lesson.CategoryWorkflow, 0.8, nil)))

		b := New(local)
		t.Cleanup(b.WaitForTracking)
		got := b.GetPatternsForFeature(ctx, "webhook handlers", Query{ProjectType: "saas"}, DefaultPatternLimit)
		require.Len(t, got, 1)
		assert.Equal(t, "Webhook handlers must be idempotent", got[0].Title)
	})
}

func TestRateLesson(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	ctx := context.Background()

	l := build(t, "Rated lesson", lesson.CategoryTesting, 0.7, nil)
	require.NoError(t, local.Upsert(l))
	remote.put(*l)

	b := New(local, WithRemote(remote), WithLogger(zaptest.NewLogger(t)))

	require.NoError(t, b.RateLesson(ctx, "rated lesson", true))
	got, err := local.Get("rated lesson")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TimesHelpful)
	assert.Equal(t, 1, got.Upvotes)
	assert.InDelta(t, 0.72, got.Confidence, 1e-9)
	assert.Equal(t, 1, remote.counter("rated lesson", lesson.FieldTimesHelpful))

	require.NoError(t, b.RateLesson(ctx, "rated lesson", false))
	got, err = local.Get("rated lesson")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TimesNotHelpful)
	assert.Equal(t, 1, got.Downvotes)
	assert.InDelta(t, 0.69, got.Confidence, 1e-9)

	assert.ErrorIs(t, b.RateLesson(ctx, "   ", true), lesson.ErrEmptyTitle)
}

func TestRateLesson_ConfidenceNeverLeavesBounds(t *testing.T) {
	local := newLocal(t)
	l := build(t, "Fragile", lesson.CategoryPitfall, 0.11, nil)
	require.NoError(t, local.Upsert(l))

	b := New(local)
	for i := 0; i < 20; i++ {
		require.NoError(t, b.RateLesson(context.Background(), "fragile", false))
	}
	got, err := local.Get("fragile")
	require.NoError(t, err)
	assert.Equal(t, lesson.MinConfidence, got.Confidence)
}

func TestAddLesson(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	ctx := context.Background()

	b := New(local, WithRemote(remote), WithEmbedder(&fakeEmbedder{}), WithLogger(zaptest.NewLogger(t)))

	l := build(t, "Fresh insight", lesson.CategoryTooling, 0.7, nil)
	require.NoError(t, b.AddLesson(ctx, l))

	_, err := local.Get("fresh insight")
	require.NoError(t, err)

	remote.mu.Lock()
	_, inRemote := remote.lessons["fresh insight"]
	remote.mu.Unlock()
	assert.True(t, inRemote, "remote receives the lesson best effort")
}

func TestAddLesson_RemoteFailureIsNotFatal(t *testing.T) {
	local := newLocal(t)
	remote := newFakeRemote()
	remote.unavailable = true

	b := New(local, WithRemote(remote), WithLogger(zaptest.NewLogger(t)))

	require.NoError(t, b.AddLesson(context.Background(), build(t, "Still captured", lesson.CategoryWorkflow, 0.7, nil)))
	_, err := local.Get("still captured")
	assert.NoError(t, err)
}

func TestEffectivenessPenaltyAppliedToRanking(t *testing.T) {
	local := newLocal(t)

	dead := build(t, "Never helpful", lesson.CategoryWorkflow, 0.9, func(l *lesson.Lesson) {
		l.TimesSurfaced = 15
	})
	require.NoError(t, local.Upsert(dead))
	require.NoError(t, local.Upsert(build(t, "Quietly useful", lesson.CategoryWorkflow, 0.65, nil)))

	b := New(local)
	t.Cleanup(b.WaitForTracking)

	got := b.GetRelevantLessons(context.Background(), Query{ProjectType: "saas", Limit: DefaultLimit})
	require.Len(t, got, 2)
	// 0.9 confidence would win, but the never-helpful penalty halves it:
	// 0.5*0.45 = 0.225 versus 0.5*0.65 = 0.325.
	assert.Equal(t, "Quietly useful", got[0].Title)
	assert.Equal(t, "Never helpful", got[1].Title)
}

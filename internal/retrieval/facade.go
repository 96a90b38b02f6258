// Package retrieval implements the unified lesson retrieval pipeline.
//
// A Bridge fans a query out to the local corpus and the remote store,
// scores candidates with the hybrid scorer, merges duplicates by title,
// and ranks the survivors. Every external dependency is optional: without a
// remote store or embedding provider the pipeline quietly degrades to
// keyword-only retrieval over the local corpus. Retrieval never fails
// because a backend is down.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nivantalabs/lessond/internal/embeddings"
	"github.com/nivantalabs/lessond/internal/lesson"
	"github.com/nivantalabs/lessond/internal/localstore"
	"github.com/nivantalabs/lessond/internal/remotestore"
	"github.com/nivantalabs/lessond/internal/scoring"
)

// Default result limits per operation. Callers pass these explicitly; a
// non-positive limit yields an empty result, never a fallback default.
const (
	DefaultLimit             = 15
	DefaultGotchaLimit       = 5
	DefaultArchitectureLimit = 5
	DefaultPatternLimit      = 3
	DefaultSearchLimit       = 10
)

const (
	// localMinConfidence gates local corpus candidates.
	localMinConfidence = 0.4

	// localScoreFloor drops weak local keyword matches before merging.
	localScoreFloor = 0.3

	// searchMinConfidence gates the keyword fallback of SemanticSearch.
	searchMinConfidence = 0.3

	// semanticCandidateLimit is the remote candidate window. Wider than any
	// result limit so merging and phase filtering have material to work with.
	semanticCandidateLimit = 30

	// defaultTimeout bounds one whole retrieval fan-out.
	defaultTimeout = 5 * time.Second
)

// Confidence deltas applied by explicit lesson ratings. Negative feedback
// weighs slightly heavier so unhelpful lessons decay faster than helpful
// ones rise.
const (
	helpfulDelta    = 0.02
	notHelpfulDelta = -0.03
)

// keywordNorm converts a raw free-text keyword score to [0, 1].
const keywordNorm = 5.0

// Query describes the project context lessons are retrieved for.
type Query struct {
	// ProjectType is the kind of project being worked on ("saas", "cli").
	ProjectType string

	// TechStacks lists the technologies in play.
	TechStacks []string

	// Phase optionally narrows results to categories relevant to a
	// lifecycle phase. Unknown phases apply no filter.
	Phase lesson.Phase

	// Limit caps the result count. Non-positive means no results.
	Limit int
}

// Match pairs a lesson with its similarity score for direct search results.
type Match struct {
	Lesson     lesson.Lesson
	Similarity float64
}

// Bridge is the unified lesson retrieval facade.
type Bridge struct {
	local    *localstore.Store
	remote   remotestore.Store
	embedder embeddings.Provider
	scorer   *scoring.Scorer
	logger   *zap.Logger
	timeout  time.Duration

	tracker *tracker
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithRemote attaches a remote lesson store.
func WithRemote(s remotestore.Store) Option {
	return func(b *Bridge) { b.remote = s }
}

// WithEmbedder attaches an embedding provider for semantic retrieval.
func WithEmbedder(p embeddings.Provider) Option {
	return func(b *Bridge) { b.embedder = p }
}

// WithWeights overrides the scoring weights.
func WithWeights(w scoring.Weights) Option {
	return func(b *Bridge) { b.scorer = scoring.New(w) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithTimeout overrides the per-retrieval deadline.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// New creates a Bridge over the local corpus. Remote store and embedder are
// optional; without them retrieval is keyword-only.
func New(local *localstore.Store, opts ...Option) *Bridge {
	b := &Bridge{
		local:   local,
		scorer:  scoring.New(scoring.DefaultWeights()),
		logger:  zap.NewNop(),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.tracker = newTracker(b.local, b.remote, b.logger)
	return b
}

// WaitForTracking blocks until pending surfacing-counter updates finish.
func (b *Bridge) WaitForTracking() {
	b.tracker.Wait()
}

// Stats reports local corpus statistics.
func (b *Bridge) Stats() localstore.Stats {
	return b.local.Stats()
}

// GetRelevantLessons retrieves, scores, merges and ranks lessons for the
// given project context from all configured stores.
//
// Store failures degrade the result instead of failing it: with the remote
// store down the caller still gets local lessons, with everything down an
// empty list.
func (b *Bridge) GetRelevantLessons(ctx context.Context, q Query) []lesson.Lesson {
	if q.Limit <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	rs := newResultSet()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.collectLocal(q, rs, &mu)
		return nil
	})
	g.Go(func() error {
		b.collectRemote(gctx, q, rs, &mu)
		return nil
	})
	_ = g.Wait()

	rs.filterPhase(q.Phase)
	rs.penalize(b.scorer.EffectivenessPenalty)

	ranked := rs.ranked()
	if len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}

	b.tracker.recordSurfaced(ranked)

	lessons := make([]lesson.Lesson, len(ranked))
	for i, r := range ranked {
		lessons[i] = r.lesson
	}
	return lessons
}

// collectLocal scores local corpus lessons on the keyword path.
func (b *Bridge) collectLocal(q Query, rs *resultSet, mu *sync.Mutex) {
	locals := b.local.Query(localstore.Filter{
		ProjectType:   q.ProjectType,
		MinConfidence: localMinConfidence,
	})
	for i := range locals {
		score := b.scorer.ScoreKeyword(&locals[i], q.ProjectType, q.TechStacks)
		if score <= localScoreFloor {
			continue
		}
		mu.Lock()
		rs.add(locals[i], score, originLocal)
		mu.Unlock()
	}
}

// collectRemote scores remote lessons, semantic first with a metadata
// fallback when no semantic candidates come back.
func (b *Bridge) collectRemote(ctx context.Context, q Query, rs *resultSet, mu *sync.Mutex) {
	if b.remote == nil {
		return
	}

	matches := b.semanticMatches(ctx, semanticQueryText(q), semanticCandidateLimit)
	if len(matches) > 0 {
		for i := range matches {
			cand := scoring.SemanticCandidate(&matches[i].Lesson, matches[i].Similarity)
			score := b.scorer.Score(cand, q.ProjectType, q.TechStacks)
			mu.Lock()
			rs.add(matches[i].Lesson, score, originRemote)
			mu.Unlock()
		}
		return
	}

	start := time.Now()
	remotes, err := b.remote.Query(ctx, remotestore.MetadataQuery{
		ProjectType: q.ProjectType,
		TechStacks:  q.TechStacks,
	})
	remotestore.RecordOperation("remote", "query", time.Since(start), resultLabel(err))
	if err != nil {
		if errors.Is(err, remotestore.ErrUnavailable) {
			remotestore.DegradedRetrievals.Inc()
			b.logger.Debug("remote store unavailable, serving local results only", zap.Error(err))
		} else {
			b.logger.Warn("remote metadata query failed", zap.Error(err))
		}
		return
	}
	for i := range remotes {
		score := b.scorer.ScoreKeyword(&remotes[i], q.ProjectType, q.TechStacks)
		mu.Lock()
		rs.add(remotes[i], score, originRemote)
		mu.Unlock()
	}
}

// semanticQueryText builds the embedding query from the project context.
func semanticQueryText(q Query) string {
	text := fmt.Sprintf("%s project", q.ProjectType)
	if len(q.TechStacks) > 0 {
		text += " using " + strings.Join(q.TechStacks, ", ")
	}
	return text
}

// semanticMatches embeds the query and runs remote similarity search.
// Returns nil when semantic retrieval is not possible right now; the caller
// falls back to keyword retrieval.
func (b *Bridge) semanticMatches(ctx context.Context, text string, limit int) []remotestore.SemanticMatch {
	if b.remote == nil || b.embedder == nil {
		return nil
	}

	vector, err := b.embedder.EmbedQuery(ctx, text)
	if err != nil {
		if errors.Is(err, embeddings.ErrUnavailable) {
			b.logger.Debug("embeddings unavailable, falling back to keyword retrieval", zap.Error(err))
		} else {
			b.logger.Warn("query embedding failed", zap.Error(err))
		}
		return nil
	}

	start := time.Now()
	matches, err := b.remote.SimilaritySearch(ctx, vector, limit, remotestore.DefaultScoreThreshold)
	remotestore.RecordOperation("remote", "similarity_search", time.Since(start), resultLabel(err))
	if err != nil {
		if errors.Is(err, remotestore.ErrUnavailable) {
			remotestore.DegradedRetrievals.Inc()
			b.logger.Debug("remote store unavailable for semantic search", zap.Error(err))
		} else {
			b.logger.Warn("semantic search failed", zap.Error(err))
		}
		return nil
	}
	return matches
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, remotestore.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// SemanticSearch searches lessons by free text, returning similarity-scored
// matches. Falls back to keyword scoring over the local corpus when semantic
// retrieval is unavailable.
func (b *Bridge) SemanticSearch(ctx context.Context, query string, limit int) []Match {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if matches := b.semanticMatches(ctx, query, limit); len(matches) > 0 {
		out := make([]Match, len(matches))
		for i, m := range matches {
			out[i] = Match{Lesson: m.Lesson, Similarity: m.Similarity}
		}
		return out
	}

	// Keyword fallback. Raw keyword scores are unbounded, so normalize into
	// the similarity range before returning.
	locals := b.local.Query(localstore.Filter{MinConfidence: searchMinConfidence})
	out := make([]Match, 0, len(locals))
	for i := range locals {
		score := scoring.KeywordScore(query, &locals[i])
		if score <= 0 {
			continue
		}
		out = append(out, Match{Lesson: locals[i], Similarity: normalizeKeyword(score)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Lesson.Key() < out[j].Lesson.Key()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func normalizeKeyword(score float64) float64 {
	if score > keywordNorm {
		return 1.0
	}
	return score / keywordNorm
}

// GetGotchas returns known pitfalls for the project context, formatted as
// warning lines.
func (b *Bridge) GetGotchas(ctx context.Context, q Query, limit int) []string {
	if limit <= 0 {
		return nil
	}
	q.Limit = DefaultLimit
	q.Phase = ""

	var gotchas []string
	for _, l := range b.GetRelevantLessons(ctx, q) {
		if l.Category != lesson.CategoryPitfall {
			continue
		}
		gotchas = append(gotchas, fmt.Sprintf("- **%s**: %s → %s", l.Title, l.Description, l.Recommendation))
		if len(gotchas) == limit {
			break
		}
	}
	return gotchas
}

// GetArchitectureLessons returns architecture lessons for a project type.
func (b *Bridge) GetArchitectureLessons(ctx context.Context, projectType string, limit int) []lesson.Lesson {
	if limit <= 0 {
		return nil
	}

	var out []lesson.Lesson
	for _, l := range b.GetRelevantLessons(ctx, Query{ProjectType: projectType, Limit: DefaultLimit}) {
		if l.Category != lesson.CategoryArchitecture {
			continue
		}
		out = append(out, l)
		if len(out) == limit {
			break
		}
	}
	return out
}

// GetPatternsForFeature returns lessons relevant to implementing a specific
// feature, blending semantic similarity with feature-name keyword matching.
func (b *Bridge) GetPatternsForFeature(ctx context.Context, feature string, q Query, limit int) []lesson.Lesson {
	if limit <= 0 || strings.TrimSpace(feature) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	matches := b.semanticMatches(ctx, "implementation patterns for "+feature, limit*3)
	if len(matches) > 0 {
		type scoredLesson struct {
			l     lesson.Lesson
			score float64
		}
		scored := make([]scoredLesson, len(matches))
		for i, m := range matches {
			boost := normalizeKeyword(scoring.KeywordScore(feature, &m.Lesson))
			scored[i] = scoredLesson{l: m.Lesson, score: m.Similarity*0.6 + boost*0.4}
		}
		sort.Slice(scored, func(i, j int) bool {
			if scored[i].score != scored[j].score {
				return scored[i].score > scored[j].score
			}
			return scored[i].l.Key() < scored[j].l.Key()
		})
		if len(scored) > limit {
			scored = scored[:limit]
		}
		out := make([]lesson.Lesson, len(scored))
		for i, s := range scored {
			out[i] = s.l
		}
		return out
	}

	// Fallback: keyword-only matching on the context-relevant lessons.
	type scoredLesson struct {
		l     lesson.Lesson
		score float64
	}
	var scored []scoredLesson
	for _, l := range b.GetRelevantLessons(ctx, Query{ProjectType: q.ProjectType, TechStacks: q.TechStacks, Limit: DefaultLimit}) {
		if score := scoring.KeywordScore(feature, &l); score > 0 {
			scored = append(scored, scoredLesson{l: l, score: score})
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].l.Key() < scored[j].l.Key()
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]lesson.Lesson, len(scored))
	for i, s := range scored {
		out[i] = s.l
	}
	return out
}

// RateLesson records explicit feedback on a lesson: a helpfulness counter, a
// vote, and a clamped confidence nudge. Local updates are authoritative;
// remote updates are best effort.
func (b *Bridge) RateLesson(ctx context.Context, title string, helpful bool) error {
	if strings.TrimSpace(title) == "" {
		return lesson.ErrEmptyTitle
	}

	field, vote, delta := lesson.FieldTimesHelpful, lesson.FieldUpvotes, helpfulDelta
	if !helpful {
		field, vote, delta = lesson.FieldTimesNotHelpful, lesson.FieldDownvotes, notHelpfulDelta
	}

	b.local.IncrementCounter(title, field)
	b.local.IncrementCounter(title, vote)
	b.local.AdjustConfidence(title, delta)

	if b.remote != nil {
		for _, f := range []string{field, vote} {
			if err := b.remote.IncrementCounter(ctx, title, f); err != nil {
				b.logger.Debug("remote rating update failed",
					zap.String("title", title), zap.String("field", f), zap.Error(err))
			}
		}
		if err := b.remote.AdjustConfidence(ctx, title, delta); err != nil {
			b.logger.Debug("remote confidence update failed",
				zap.String("title", title), zap.Error(err))
		}
	}
	return nil
}

// AddLesson captures a new lesson into the local corpus and, best effort,
// into the remote store with a freshly generated embedding.
func (b *Bridge) AddLesson(ctx context.Context, l *lesson.Lesson) error {
	if err := b.local.Upsert(l); err != nil {
		return err
	}

	if b.remote == nil {
		return nil
	}

	var vector []float32
	if b.embedder != nil {
		vec, err := embeddings.EmbedLesson(ctx, b.embedder, l)
		if err != nil {
			b.logger.Warn("lesson embedding failed, storing metadata only",
				zap.String("title", l.Title), zap.Error(err))
		} else {
			vector = vec
		}
	}

	start := time.Now()
	err := b.remote.Upsert(ctx, l, vector)
	remotestore.RecordOperation("remote", "upsert", time.Since(start), resultLabel(err))
	if err != nil {
		b.logger.Warn("remote lesson upsert failed",
			zap.String("title", l.Title), zap.Error(err))
	}
	return nil
}

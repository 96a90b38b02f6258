// Package scoring computes the hybrid relevance score that ranks lessons:
// a weighted blend of semantic similarity, metadata overlap and confidence,
// with soft penalties for tech mismatch and observed ineffectiveness.
package scoring

import (
	"strings"

	"github.com/nivantalabs/lessond/internal/lesson"
)

// Weights holds every tunable constant in the ranking formulas. The defaults
// are product tuning choices, not derived values; they are configuration so
// operators can adjust them without a rebuild.
type Weights struct {
	// Hybrid formula coefficients. Similarity dominates because it captures
	// paraphrase matches keyword search misses, but stays below 1.0 so an
	// off-topic high-similarity hit cannot override metadata and trust.
	Similarity float64 `koanf:"similarity"`
	Overlap    float64 `koanf:"overlap"`
	Confidence float64 `koanf:"confidence"`

	// NeutralOverlap is the overlap assigned to generic lessons (no declared
	// project types, tech stacks or tags) instead of zero.
	NeutralOverlap float64 `koanf:"neutral_overlap"`

	// TechMismatchPenalty multiplies the score when the query filters by tech
	// and the lesson declares non-overlapping tech tags. Soft: cross-stack
	// lessons are still occasionally useful, so they are demoted, not dropped.
	TechMismatchPenalty float64 `koanf:"tech_mismatch_penalty"`

	// NeverHelpfulPenalty multiplies the score of lessons surfaced at least
	// NeverHelpfulSurfaceFloor times without a single helpful rating.
	NeverHelpfulPenalty      float64 `koanf:"never_helpful_penalty"`
	NeverHelpfulSurfaceFloor int     `koanf:"never_helpful_surface_floor"`

	// LowEffectivenessPenalty multiplies the score of lessons whose rated
	// effectiveness falls below LowEffectivenessThreshold.
	LowEffectivenessPenalty   float64 `koanf:"low_effectiveness_penalty"`
	LowEffectivenessThreshold float64 `koanf:"low_effectiveness_threshold"`
}

// DefaultWeights returns the observed tuning values.
func DefaultWeights() Weights {
	return Weights{
		Similarity:                0.50,
		Overlap:                   0.30,
		Confidence:                0.20,
		NeutralOverlap:            0.5,
		TechMismatchPenalty:       0.5,
		NeverHelpfulPenalty:       0.5,
		NeverHelpfulSurfaceFloor:  10,
		LowEffectivenessPenalty:   0.7,
		LowEffectivenessThreshold: 0.3,
	}
}

// WithDefaults returns w with every zero-valued field replaced by its
// default. Zero means unset: no weight, penalty multiplier or threshold is
// meaningfully zero, and a partially populated weight set must not silently
// zero out the rest of the formula.
func (w Weights) WithDefaults() Weights {
	d := DefaultWeights()
	if w.Similarity == 0 {
		w.Similarity = d.Similarity
	}
	if w.Overlap == 0 {
		w.Overlap = d.Overlap
	}
	if w.Confidence == 0 {
		w.Confidence = d.Confidence
	}
	if w.NeutralOverlap == 0 {
		w.NeutralOverlap = d.NeutralOverlap
	}
	if w.TechMismatchPenalty == 0 {
		w.TechMismatchPenalty = d.TechMismatchPenalty
	}
	if w.NeverHelpfulPenalty == 0 {
		w.NeverHelpfulPenalty = d.NeverHelpfulPenalty
	}
	if w.NeverHelpfulSurfaceFloor == 0 {
		w.NeverHelpfulSurfaceFloor = d.NeverHelpfulSurfaceFloor
	}
	if w.LowEffectivenessPenalty == 0 {
		w.LowEffectivenessPenalty = d.LowEffectivenessPenalty
	}
	if w.LowEffectivenessThreshold == 0 {
		w.LowEffectivenessThreshold = d.LowEffectivenessThreshold
	}
	return w
}

// Candidate pairs a lesson with an optional semantic similarity. Whether the
// similarity is present is fixed by the constructor, so the scorer's choice
// between the keyword and hybrid formulas is made at construction time rather
// than by probing the record.
type Candidate struct {
	Lesson *lesson.Lesson

	similarity    float64
	hasSimilarity bool
}

// KeywordCandidate builds a candidate that was never semantically scored.
// It is ranked by the pure keyword formula; no default similarity is assumed.
func KeywordCandidate(l *lesson.Lesson) Candidate {
	return Candidate{Lesson: l}
}

// SemanticCandidate builds a candidate carrying a cosine similarity in [0,1].
func SemanticCandidate(l *lesson.Lesson, similarity float64) Candidate {
	if similarity < 0 {
		similarity = 0
	}
	if similarity > 1 {
		similarity = 1
	}
	return Candidate{Lesson: l, similarity: similarity, hasSimilarity: true}
}

// Similarity returns the semantic similarity and whether one was recorded.
func (c Candidate) Similarity() (float64, bool) {
	return c.similarity, c.hasSimilarity
}

// Scorer computes relevance scores under a fixed set of weights.
type Scorer struct {
	weights Weights
}

// New creates a Scorer. Zero-valued weight fields fall back to their
// defaults so a partially populated config cannot silently zero out the
// ranking.
func New(w Weights) *Scorer {
	return &Scorer{weights: w.WithDefaults()}
}

// Weights returns the active weight set.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// MetadataOverlap measures how well a lesson's declared metadata matches the
// query context, in [0,1]. Query tokens are the project type (when given) plus
// each tech stack entry; matched tokens are normalized by the token count.
//
// Only lessons that declare tags and fail to match are penalized:
//   - a lesson with no ProjectTypes matches any project type,
//   - a lesson with no TechStacks/Tags is neutral on every tech token,
//   - a fully generic lesson scores NeutralOverlap.
func (s *Scorer) MetadataOverlap(l *lesson.Lesson, projectType string, techStack []string) float64 {
	if l.Generic() {
		return s.weights.NeutralOverlap
	}

	var tokens, matched float64

	if projectType != "" {
		tokens++
		if len(l.ProjectTypes) == 0 || containsFold(l.ProjectTypes, projectType) {
			matched++
		}
	}

	declared := append(append([]string{}, l.TechStacks...), l.Tags...)
	for _, tech := range techStack {
		tokens++
		switch {
		case len(declared) == 0:
			// Declares no tech at all: neutral on this token.
			matched += s.weights.NeutralOverlap
		case containsFold(declared, tech):
			matched++
		}
	}

	if tokens == 0 {
		// Query carries no metadata to match against.
		return s.weights.NeutralOverlap
	}
	return matched / tokens
}

// ScoreKeyword ranks a candidate without semantic information:
// overlap scaled by confidence.
func (s *Scorer) ScoreKeyword(l *lesson.Lesson, projectType string, techStack []string) float64 {
	return s.MetadataOverlap(l, projectType, techStack) * l.Confidence
}

// Score produces the relevance score for a candidate. Semantic candidates use
// the hybrid formula; keyword candidates use the pure keyword formula. The
// tech-mismatch penalty applies to both paths.
func (s *Scorer) Score(c Candidate, projectType string, techStack []string) float64 {
	l := c.Lesson

	var score float64
	if sim, ok := c.Similarity(); ok {
		overlap := s.MetadataOverlap(l, projectType, techStack)
		score = s.weights.Similarity*sim + s.weights.Overlap*overlap + s.weights.Confidence*l.Confidence
	} else {
		score = s.ScoreKeyword(l, projectType, techStack)
	}

	if s.techMismatch(l, techStack) {
		score *= s.weights.TechMismatchPenalty
	}
	return score
}

// EffectivenessPenalty returns the multiplier earned by a lesson's feedback
// history, 1.0 when no penalty applies. Applied after merge, before the final
// sort.
func (s *Scorer) EffectivenessPenalty(l *lesson.Lesson) float64 {
	penalty := 1.0

	if eff, ok := l.EffectivenessScore(); ok && eff < s.weights.LowEffectivenessThreshold {
		penalty *= s.weights.LowEffectivenessPenalty
	}
	if l.TimesSurfaced >= s.weights.NeverHelpfulSurfaceFloor && l.TimesHelpful == 0 {
		penalty *= s.weights.NeverHelpfulPenalty
	}
	return penalty
}

// techMismatch reports whether the lesson declares tech tags and none of them
// overlap the query's non-empty tech filter.
func (s *Scorer) techMismatch(l *lesson.Lesson, techStack []string) bool {
	if len(techStack) == 0 || len(l.TechStacks) == 0 {
		return false
	}
	for _, tech := range techStack {
		if containsFold(l.TechStacks, tech) {
			return false
		}
	}
	return true
}

// KeywordScore measures free-text relevance of a lesson to a query string,
// used by the keyword fallback of direct semantic search. Title hits weigh
// 2.0, description hits 1.0, tag hits 0.5; words shorter than three runes are
// ignored.
func KeywordScore(query string, l *lesson.Lesson) float64 {
	title := strings.ToLower(l.Title)
	desc := strings.ToLower(l.Description)
	tags := strings.ToLower(strings.Join(l.Tags, " "))

	var score float64
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if len(word) < 3 {
			continue
		}
		if strings.Contains(title, word) {
			score += 2.0
		}
		if strings.Contains(desc, word) {
			score += 1.0
		}
		if strings.Contains(tags, word) {
			score += 0.5
		}
	}
	return score
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(needle)) {
			return true
		}
	}
	return false
}

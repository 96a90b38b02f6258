// Package lesson defines the lesson record shared by all stores and the
// retrieval pipeline.
package lesson

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors for lesson operations.
var (
	ErrEmptyTitle        = errors.New("lesson title cannot be empty")
	ErrUnknownCategory   = errors.New("unknown lesson category")
	ErrInvalidConfidence = errors.New("confidence must be between 0.1 and 1.0")
	ErrNotFound          = errors.New("lesson not found")
)

// Confidence bounds. Confidence is clamped into this range on every update so
// a lesson can be down-ranked but never permanently buried at zero.
const (
	MinConfidence = 0.1
	MaxConfidence = 1.0
)

// MinRatingsForEffectiveness is the minimum number of explicit ratings before
// the effectiveness ratio is considered meaningful.
const MinRatingsForEffectiveness = 2

// Counter field names accepted by the stores' IncrementCounter operations.
const (
	FieldTimesSurfaced   = "times_surfaced"
	FieldTimesHelpful    = "times_helpful"
	FieldTimesNotHelpful = "times_not_helpful"
	FieldFrequency       = "frequency"
	FieldUpvotes         = "upvotes"
	FieldDownvotes       = "downvotes"
)

// Lesson is a single unit of captured project experience: what happened,
// when it applies, and what to do differently next time.
//
// The normalized title is the logical identity: the same lesson surfaced from
// two stores is merged by title, never duplicated in a result set. A lesson
// that declares no ProjectTypes and no TechStacks/Tags is *generic* and must
// never be penalized for failing to overlap a query's filters.
type Lesson struct {
	// ID is a UUID assigned at capture time.
	ID string `json:"id"`

	// Title is a brief summary and the dedup key (case/whitespace normalized).
	Title string `json:"title"`

	// Category classifies the pattern (architecture, pitfall, workflow, ...).
	Category Category `json:"category"`

	// Description explains what was observed.
	Description string `json:"description,omitempty"`

	// Context describes when the lesson applies.
	Context string `json:"context,omitempty"`

	// Recommendation is what to do differently.
	Recommendation string `json:"recommendation,omitempty"`

	// Confidence is the trust signal, clamped to [0.1, 1.0].
	Confidence float64 `json:"confidence"`

	// Frequency counts independent observations of the same pattern.
	// Monotonically non-decreasing outside administrative resets.
	Frequency int `json:"frequency"`

	// ProjectTypes, TechStacks and Tags drive keyword/overlap scoring.
	// Empty means generic: applicable anywhere, never penalized.
	ProjectTypes []string `json:"project_types,omitempty"`
	TechStacks   []string `json:"tech_stacks,omitempty"`
	Tags         []string `json:"tags,omitempty"`

	// Feedback counters maintained by the effectiveness tracker.
	TimesSurfaced   int `json:"times_surfaced"`
	TimesHelpful    int `json:"times_helpful"`
	TimesNotHelpful int `json:"times_not_helpful"`
	Upvotes         int `json:"upvotes"`
	Downvotes       int `json:"downvotes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a lesson with a generated UUID and default confidence.
func New(title string, category Category) (*Lesson, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrEmptyTitle
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	now := time.Now()
	return &Lesson{
		ID:         uuid.New().String(),
		Title:      title,
		Category:   category,
		Confidence: 0.7,
		Frequency:  1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// NormalizeTitle lower-cases and trims a title for use as the dedup key.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// Key returns the lesson's dedup key.
func (l *Lesson) Key() string {
	return NormalizeTitle(l.Title)
}

// Validate checks that the lesson satisfies the record invariants.
func (l *Lesson) Validate() error {
	if strings.TrimSpace(l.Title) == "" {
		return ErrEmptyTitle
	}
	if !l.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, l.Category)
	}
	if l.Confidence < MinConfidence || l.Confidence > MaxConfidence {
		return fmt.Errorf("%w: got %v", ErrInvalidConfidence, l.Confidence)
	}
	if l.Frequency < 0 {
		return errors.New("frequency cannot be negative")
	}
	if l.TimesSurfaced < 0 || l.TimesHelpful < 0 || l.TimesNotHelpful < 0 {
		return errors.New("feedback counters cannot be negative")
	}
	return nil
}

// Generic reports whether the lesson declares no targeting metadata at all.
// Generic lessons get a neutral overlap score instead of zero.
func (l *Lesson) Generic() bool {
	return len(l.ProjectTypes) == 0 && len(l.TechStacks) == 0 && len(l.Tags) == 0
}

// EffectivenessScore returns the helpful/(helpful+not helpful) ratio.
// ok is false when fewer than MinRatingsForEffectiveness ratings exist.
func (l *Lesson) EffectivenessScore() (score float64, ok bool) {
	total := l.TimesHelpful + l.TimesNotHelpful
	if total < MinRatingsForEffectiveness {
		return 0, false
	}
	return float64(l.TimesHelpful) / float64(total), true
}

// ClampConfidence bounds a confidence value into [MinConfidence, MaxConfidence].
func ClampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// AdjustConfidence applies a delta and clamps the result.
func (l *Lesson) AdjustConfidence(delta float64) {
	l.Confidence = ClampConfidence(l.Confidence + delta)
	l.UpdatedAt = time.Now()
}

// SemanticText composes the fields used for embedding generation.
func (l *Lesson) SemanticText() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.Title, l.Description, l.Recommendation} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ". ")
}

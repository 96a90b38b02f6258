package retrieval

import (
	"sort"

	"github.com/nivantalabs/lessond/internal/lesson"
)

// origin is a bitmask of the stores a merged lesson was retrieved from.
// Surfacing counters are incremented only on the stores that actually
// returned the lesson.
type origin uint8

const (
	originLocal origin = 1 << iota
	originRemote
)

// rankedLesson is a lesson with its merged relevance score.
type rankedLesson struct {
	lesson  lesson.Lesson
	score   float64
	origins origin
}

// resultSet merges candidates from all stores, deduplicating by normalized
// title. Merging keeps the best view of the lesson: max confidence, summed
// frequency, max score. Scores are never averaged; a strong signal from one
// store must not be diluted by a weak one from another.
type resultSet struct {
	byKey map[string]*rankedLesson
}

func newResultSet() *resultSet {
	return &resultSet{byKey: make(map[string]*rankedLesson)}
}

func (rs *resultSet) add(l lesson.Lesson, score float64, src origin) {
	key := l.Key()
	existing, ok := rs.byKey[key]
	if !ok {
		rs.byKey[key] = &rankedLesson{lesson: l, score: score, origins: src}
		return
	}

	if l.Confidence > existing.lesson.Confidence {
		existing.lesson.Confidence = l.Confidence
	}
	existing.lesson.Frequency += l.Frequency
	if score > existing.score {
		existing.score = score
	}
	existing.origins |= src
}

func (rs *resultSet) len() int {
	return len(rs.byKey)
}

// filterPhase drops lessons whose category is outside the phase's allow-list.
// An unknown phase applies no filter.
func (rs *resultSet) filterPhase(phase lesson.Phase) {
	if phase == "" {
		return
	}
	if _, ok := lesson.CategoriesForPhase(phase); !ok {
		return
	}
	for key, r := range rs.byKey {
		if !lesson.PhaseAllows(phase, r.lesson.Category) {
			delete(rs.byKey, key)
		}
	}
}

// penalize applies a score multiplier per lesson, after merging so the
// penalty hits the final score exactly once.
func (rs *resultSet) penalize(multiplier func(*lesson.Lesson) float64) {
	for _, r := range rs.byKey {
		r.score *= multiplier(&r.lesson)
	}
}

// ranked returns the merged lessons ordered by score descending, breaking
// ties by frequency descending and then title. The ordering is total, so
// identical inputs always produce identical output.
func (rs *resultSet) ranked() []rankedLesson {
	out := make([]rankedLesson, 0, len(rs.byKey))
	for _, r := range rs.byKey {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].lesson.Frequency != out[j].lesson.Frequency {
			return out[i].lesson.Frequency > out[j].lesson.Frequency
		}
		return out[i].lesson.Key() < out[j].lesson.Key()
	})
	return out
}

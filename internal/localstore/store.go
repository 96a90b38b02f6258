// Package localstore persists the local lesson corpus in a single JSON file.
//
// The local store is the reliability fallback of the retrieval pipeline: it is
// keyword/metadata only (no vector capability), and it must never be the
// reason retrieval fails entirely. A missing or unreadable corpus yields an
// empty store; malformed rows are skipped individually.
package localstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nivantalabs/lessond/internal/lesson"
)

// corpusFile is the on-disk layout: a single document holding every lesson.
type corpusFile struct {
	Lessons []lesson.Lesson `json:"lessons"`
}

// Filter selects lessons from the corpus. Zero values mean "no constraint".
type Filter struct {
	// ProjectType admits lessons that declare it or declare no project types.
	ProjectType string

	// TechStacks admits lessons whose declared tech overlaps any entry, plus
	// lessons that declare no tech at all.
	TechStacks []string

	// Category restricts to a single category.
	Category lesson.Category

	// MinConfidence drops lessons below the threshold.
	MinConfidence float64
}

// Store is a mutexed in-memory lesson corpus backed by a JSON file.
type Store struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	lessons map[string]*lesson.Lesson // keyed by normalized title

	watcher *watcher
}

// Option configures a Store.
type Option func(*Store)

// WithWatcher enables reloading the corpus when the file changes on disk,
// so lessons appended by an external capture process become visible without
// a restart.
func WithWatcher() Option {
	return func(s *Store) {
		s.watcher = &watcher{}
	}
}

// Open loads the corpus at path. The file not existing is the normal initial
// state, not an error.
func Open(path string, logger *zap.Logger, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("localstore: path cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		path:    path,
		logger:  logger,
		lessons: make(map[string]*lesson.Lesson),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.load()

	if s.watcher != nil {
		if err := s.watcher.start(s); err != nil {
			// The watcher is an optimization; the store works without it.
			s.logger.Warn("corpus watcher disabled", zap.Error(err))
			s.watcher = nil
		}
	}

	return s, nil
}

// load folds the on-disk corpus into memory. Never fails: a missing or
// corrupt file leaves the corpus untouched, and individually malformed
// lessons are skipped so one bad row cannot poison the batch.
//
// Reloads merge rather than replace. A watcher-triggered reload can read a
// file snapshot taken before a concurrent counter update flushed; replacing
// the map wholesale would roll that update back. Counters are monotonic, so
// reconciling each one to the larger of the two views loses nothing from
// either side. Lessons present only in memory are kept; removal goes
// through Remove, not through external file edits.
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cannot read lesson corpus, starting empty",
				zap.String("path", s.path), zap.Error(err))
		}
		return
	}

	var file corpusFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.Warn("cannot parse lesson corpus, starting empty",
			zap.String("path", s.path), zap.Error(err))
		return
	}

	loaded := make(map[string]*lesson.Lesson, len(file.Lessons))
	for i := range file.Lessons {
		l := file.Lessons[i]
		l.Confidence = lesson.ClampConfidence(l.Confidence)
		if !l.Category.Valid() {
			l.Category = lesson.ParseCategory(string(l.Category))
		}
		if err := l.Validate(); err != nil {
			s.logger.Warn("skipping malformed lesson",
				zap.String("title", l.Title), zap.Error(err))
			continue
		}
		loaded[l.Key()] = &l
	}

	s.mu.Lock()
	for key, dl := range loaded {
		if ml, ok := s.lessons[key]; ok {
			reconcile(dl, ml)
		}
		s.lessons[key] = dl
	}
	s.mu.Unlock()

	s.logger.Debug("lesson corpus loaded",
		zap.String("path", s.path), zap.Int("lessons", len(loaded)))
}

// reconcile folds the in-memory view of a lesson into its reloaded disk
// record. Counter fields never decrease, so the larger value is the current
// one regardless of which side flushed last. Confidence moves in both
// directions and follows the most recently updated record.
func reconcile(disk, mem *lesson.Lesson) {
	disk.TimesSurfaced = max(disk.TimesSurfaced, mem.TimesSurfaced)
	disk.TimesHelpful = max(disk.TimesHelpful, mem.TimesHelpful)
	disk.TimesNotHelpful = max(disk.TimesNotHelpful, mem.TimesNotHelpful)
	disk.Frequency = max(disk.Frequency, mem.Frequency)
	disk.Upvotes = max(disk.Upvotes, mem.Upvotes)
	disk.Downvotes = max(disk.Downvotes, mem.Downvotes)
	if mem.UpdatedAt.After(disk.UpdatedAt) {
		disk.Confidence = mem.Confidence
		disk.UpdatedAt = mem.UpdatedAt
	}
}

// Query returns lessons matching the filter, sorted by frequency×confidence
// descending with title as tiebreak. It never fails; an empty corpus yields
// an empty slice.
func (s *Store) Query(filter Filter) []lesson.Lesson {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]lesson.Lesson, 0, len(s.lessons))
	for _, l := range s.lessons {
		if !matches(l, filter) {
			continue
		}
		out = append(out, *l)
	}

	sort.Slice(out, func(i, j int) bool {
		si := float64(out[i].Frequency) * out[i].Confidence
		sj := float64(out[j].Frequency) * out[j].Confidence
		if si != sj {
			return si > sj
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

func matches(l *lesson.Lesson, f Filter) bool {
	if f.Category != "" && l.Category != f.Category {
		return false
	}
	if l.Confidence < f.MinConfidence {
		return false
	}
	if f.ProjectType != "" && len(l.ProjectTypes) > 0 && !containsFold(l.ProjectTypes, f.ProjectType) {
		return false
	}
	if len(f.TechStacks) > 0 && len(l.TechStacks) > 0 && !overlaps(l.TechStacks, f.TechStacks) {
		return false
	}
	return true
}

// Get returns a copy of the lesson with the given title.
func (s *Store) Get(title string) (*lesson.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lessons[lesson.NormalizeTitle(title)]
	if !ok {
		return nil, lesson.ErrNotFound
	}
	copied := *l
	return &copied, nil
}

// Upsert adds a lesson or merges it into an existing one with the same
// normalized title: frequency accumulates, confidence gets a small boost
// (capped), and tag sets are unioned.
func (s *Store) Upsert(l *lesson.Lesson) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("localstore: %w", err)
	}

	s.mu.Lock()
	key := l.Key()
	if existing, ok := s.lessons[key]; ok {
		existing.Frequency++
		existing.Confidence = lesson.ClampConfidence(existing.Confidence + 0.05)
		existing.Tags = union(existing.Tags, l.Tags)
		existing.TechStacks = union(existing.TechStacks, l.TechStacks)
		existing.ProjectTypes = union(existing.ProjectTypes, l.ProjectTypes)
		existing.UpdatedAt = time.Now()
	} else {
		copied := *l
		s.lessons[key] = &copied
	}
	s.mu.Unlock()

	return s.flush()
}

// IncrementCounter atomically increments a single counter field on the lesson
// with the given title. Unknown titles and persistence failures are logged
// and swallowed: counter updates must never fail a retrieval.
func (s *Store) IncrementCounter(title, field string) {
	s.mu.Lock()
	l, ok := s.lessons[lesson.NormalizeTitle(title)]
	if ok {
		applyIncrement(l, field)
		l.UpdatedAt = time.Now()
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("counter increment for unknown lesson",
			zap.String("title", title), zap.String("field", field))
		return
	}
	if err := s.flush(); err != nil {
		s.logger.Warn("persisting counter update failed",
			zap.String("title", title), zap.String("field", field), zap.Error(err))
	}
}

func applyIncrement(l *lesson.Lesson, field string) {
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
}

// AdjustConfidence applies a clamped confidence delta to the named lesson.
// Missing lessons and persistence failures are logged, not raised.
func (s *Store) AdjustConfidence(title string, delta float64) {
	s.mu.Lock()
	l, ok := s.lessons[lesson.NormalizeTitle(title)]
	if ok {
		l.AdjustConfidence(delta)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := s.flush(); err != nil {
		s.logger.Warn("persisting confidence update failed",
			zap.String("title", title), zap.Error(err))
	}
}

// Remove deletes the lesson with the given title. Returns false when no such
// lesson exists.
func (s *Store) Remove(title string) bool {
	s.mu.Lock()
	key := lesson.NormalizeTitle(title)
	_, ok := s.lessons[key]
	delete(s.lessons, key)
	s.mu.Unlock()

	if ok {
		if err := s.flush(); err != nil {
			s.logger.Warn("persisting removal failed", zap.String("title", title), zap.Error(err))
		}
	}
	return ok
}

// Stats summarizes corpus quality.
type Stats struct {
	TotalLessons        int
	ByCategory          map[lesson.Category]int
	AvgConfidence       float64
	LowConfidenceTitles []string
}

// Stats computes corpus statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{ByCategory: make(map[lesson.Category]int)}
	var total float64
	for _, l := range s.lessons {
		stats.TotalLessons++
		stats.ByCategory[l.Category]++
		total += l.Confidence
		if l.Confidence < 0.5 {
			stats.LowConfidenceTitles = append(stats.LowConfidenceTitles, l.Title)
		}
	}
	if stats.TotalLessons > 0 {
		stats.AvgConfidence = total / float64(stats.TotalLessons)
	}
	sort.Strings(stats.LowConfidenceTitles)
	return stats
}

// Close stops the file watcher, if any.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.stop()
	}
	return nil
}

// flush writes the corpus via temp file + rename so readers never observe a
// partial write.
func (s *Store) flush() error {
	s.mu.RLock()
	file := corpusFile{Lessons: make([]lesson.Lesson, 0, len(s.lessons))}
	for _, l := range s.lessons {
		file.Lessons = append(file.Lessons, *l)
	}
	s.mu.RUnlock()

	// Stable file content keeps diffs and reloads deterministic.
	sort.Slice(file.Lessons, func(i, j int) bool {
		return file.Lessons[i].Key() < file.Lessons[j].Key()
	})

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("localstore: encoding corpus: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("localstore: creating corpus directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".lessons-*.json")
	if err != nil {
		return fmt.Errorf("localstore: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("localstore: writing corpus: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("localstore: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("localstore: replacing corpus: %w", err)
	}
	return nil
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if lesson.NormalizeTitle(s) == lesson.NormalizeTitle(needle) {
			return true
		}
	}
	return false
}

func overlaps(a, b []string) bool {
	for _, x := range b {
		if containsFold(a, x) {
			return true
		}
	}
	return false
}

func union(a, b []string) []string {
	out := append([]string{}, a...)
	for _, x := range b {
		if !containsFold(out, x) {
			out = append(out, x)
		}
	}
	return out
}

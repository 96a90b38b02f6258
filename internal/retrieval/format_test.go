package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivantalabs/lessond/internal/lesson"
)

func TestFormatForInjection(t *testing.T) {
	gotcha := build(t, "Unpinned dependencies break CI", lesson.CategoryPitfall, 0.8, func(l *lesson.Lesson) {
		l.Recommendation = "Commit lockfiles."
	})
	pattern := build(t, "Use RLS policies", lesson.CategoryArchitecture, 0.9, func(l *lesson.Lesson) {
		l.Recommendation = "Enable RLS before the first deploy."
		l.Frequency = 3
	})

	t.Run("empty list renders nothing", func(t *testing.T) {
		assert.Empty(t, FormatForInjection(nil, FormatMarkdown))
		assert.Empty(t, FormatForInjection([]lesson.Lesson{}, FormatGotchas))
	})

	t.Run("gotchas", func(t *testing.T) {
		got := FormatForInjection([]lesson.Lesson{*gotcha}, FormatGotchas)
		want := "### Known Gotchas (from past projects)\n" +
			"\n" +
			"- **Unpinned dependencies break CI**: Commit lockfiles."
		assert.Equal(t, want, got)
	})

	t.Run("patterns show confidence and frequency", func(t *testing.T) {
		got := FormatForInjection([]lesson.Lesson{*pattern}, FormatPatterns)
		want := "### Learned Patterns\n" +
			"\n" +
			"- **Use RLS policies** (90%, seen 3x): Enable RLS before the first deploy."
		assert.Equal(t, want, got)
	})

	t.Run("patterns mark unrepeated lessons as new", func(t *testing.T) {
		fresh := build(t, "Cache warmup matters", lesson.CategoryArchitecture, 0.7, func(l *lesson.Lesson) {
			l.Recommendation = "Warm caches before cutover."
		})
		got := FormatForInjection([]lesson.Lesson{*fresh}, FormatPatterns)
		assert.Contains(t, got, "(70%, new)")
	})

	t.Run("default markdown style", func(t *testing.T) {
		got := FormatForInjection([]lesson.Lesson{*gotcha}, FormatMarkdown)
		require.Contains(t, got, "### Lessons from Past Projects")
		assert.Contains(t, got, "**Unpinned dependencies break CI** [pitfall]")
		assert.Contains(t, got, "  description of Unpinned dependencies break CI")
		assert.Contains(t, got, "  → Commit lockfiles.")
	})

	t.Run("unknown style falls back to markdown", func(t *testing.T) {
		got := FormatForInjection([]lesson.Lesson{*gotcha}, "yaml")
		assert.Contains(t, got, "### Lessons from Past Projects")
	})
}

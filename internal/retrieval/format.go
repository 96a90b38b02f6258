package retrieval

import (
	"fmt"
	"strings"

	"github.com/nivantalabs/lessond/internal/lesson"
)

// Injection format styles.
const (
	FormatMarkdown = "markdown"
	FormatGotchas  = "gotchas"
	FormatPatterns = "patterns"
)

// FormatForInjection renders lessons as markdown for injection into
// generated artifacts. Unknown styles render the default markdown form.
// An empty lesson list renders an empty string.
func FormatForInjection(lessons []lesson.Lesson, style string) string {
	if len(lessons) == 0 {
		return ""
	}

	switch style {
	case FormatGotchas:
		lines := []string{"### Known Gotchas (from past projects)", ""}
		for _, l := range lessons {
			lines = append(lines, fmt.Sprintf("- **%s**: %s", l.Title, l.Recommendation))
		}
		return strings.Join(lines, "\n")

	case FormatPatterns:
		lines := []string{"### Learned Patterns", ""}
		for _, l := range lessons {
			conf := fmt.Sprintf("%.0f%%", l.Confidence*100)
			freq := "new"
			if l.Frequency > 1 {
				freq = fmt.Sprintf("seen %dx", l.Frequency)
			}
			lines = append(lines, fmt.Sprintf("- **%s** (%s, %s): %s", l.Title, conf, freq, l.Recommendation))
		}
		return strings.Join(lines, "\n")

	default:
		lines := []string{"### Lessons from Past Projects", ""}
		for _, l := range lessons {
			lines = append(lines, fmt.Sprintf("**%s** [%s]", l.Title, l.Category))
			lines = append(lines, "  "+l.Description)
			lines = append(lines, "  → "+l.Recommendation)
			lines = append(lines, "")
		}
		return strings.Join(lines, "\n")
	}
}

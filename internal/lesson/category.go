package lesson

// Category classifies the kind of pattern a lesson captures.
type Category string

const (
	CategoryTechStack     Category = "tech_stack"
	CategoryArchitecture  Category = "architecture"
	CategoryWorkflow      Category = "workflow"
	CategoryTooling       Category = "tooling"
	CategoryTesting       Category = "testing"
	CategoryDeployment    Category = "deployment"
	CategoryCommunication Category = "communication"

	// CategoryPitfall marks things to avoid; surfaced as gotchas.
	CategoryPitfall Category = "pitfall"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryTechStack,
	CategoryArchitecture,
	CategoryWorkflow,
	CategoryTooling,
	CategoryTesting,
	CategoryDeployment,
	CategoryCommunication,
	CategoryPitfall,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory maps a string to a Category, defaulting unknown values to
// workflow the way rows from older corpora are tolerated elsewhere.
func ParseCategory(s string) Category {
	c := Category(s)
	if c.Valid() {
		return c
	}
	return CategoryWorkflow
}

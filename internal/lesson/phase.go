package lesson

// Phase is a project lifecycle stage used to filter which lesson categories
// are relevant at a given point.
type Phase string

const (
	PhaseDiscovery      Phase = "discovery"
	PhasePlanning       Phase = "planning"
	PhaseRoadmap        Phase = "roadmap"
	PhaseImplementation Phase = "implementation"
	PhaseDeployment     Phase = "deployment"
)

// phaseCategories maps each phase to its category allow-list.
var phaseCategories = map[Phase][]Category{
	PhaseDiscovery:      {CategoryWorkflow, CategoryTechStack},
	PhasePlanning:       {CategoryWorkflow, CategoryArchitecture},
	PhaseRoadmap:        {CategoryWorkflow},
	PhaseImplementation: {CategoryArchitecture, CategoryTesting, CategoryTooling, CategoryPitfall},
	PhaseDeployment:     {CategoryDeployment},
}

// CategoriesForPhase returns the allow-list for a phase. ok is false for an
// unknown phase name, which callers treat as "no filter" (fail open): an
// unrecognized phase must not silently starve the caller of all lessons.
func CategoriesForPhase(phase Phase) (allowed []Category, ok bool) {
	cats, ok := phaseCategories[phase]
	return cats, ok
}

// PhaseAllows reports whether the category survives the phase filter.
// Unknown phases allow everything.
func PhaseAllows(phase Phase, category Category) bool {
	cats, ok := phaseCategories[phase]
	if !ok {
		return true
	}
	for _, c := range cats {
		if c == category {
			return true
		}
	}
	return false
}

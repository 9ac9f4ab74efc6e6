package engine

import "github.com/qzwhatnext/qzwhatnext/internal/model"

// Excluded reports whether a task is AI-excluded. Trust-critical: this gate
// runs BEFORE any inference call, and the inference stage iterates only the
// allowed partition.
//
// A task is excluded when:
//   - the explicit flag is set (user choice, or inherited from a series), or
//   - the stripped title begins with a period, or
//   - the title was auto-generated from notes (smart capture) and the notes
//     begin with a period - the user's leading dot landed there instead.
//
// Excluded tasks are still scheduled; they just never reach the adapter,
// never receive inferred attributes and never auto-change tier.
func Excluded(t *model.Task) bool {
	if t.AIExcluded {
		return true
	}
	if model.TitleExcluded(t.Title) {
		return true
	}
	if t.SourceType == "capture" && model.NotesExcluded(t.Notes) {
		return true
	}
	return false
}

// partitionExcluded splits tasks into (allowed, excluded), preserving
// order.
func partitionExcluded(tasks []model.Task) (allowed, excluded []model.Task) {
	for _, t := range tasks {
		if Excluded(&t) {
			excluded = append(excluded, t)
		} else {
			allowed = append(allowed, t)
		}
	}
	return allowed, excluded
}

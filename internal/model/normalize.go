package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText returns s in Unicode NFC form. Titles and notes are
// normalized before the exclusion prefix check and before dedupe
// comparisons, so visually identical strings compare equal.
func NormalizeText(s string) string {
	return norm.NFC.String(s)
}

// TitleExcluded reports whether a title opts the task out of AI processing:
// the stripped, normalized title begins with a period.
//
// This check is trust-critical and runs before any inference call. Excluded
// tasks are never sent to the inference adapter, never receive inferred
// attributes, and never auto-change tier - but they are still scheduled.
func TitleExcluded(title string) bool {
	return strings.HasPrefix(strings.TrimSpace(NormalizeText(title)), ".")
}

// NotesExcluded reports whether a notes field opts the task out of AI
// processing. Applies only to tasks whose title was auto-generated from the
// notes (smart capture), where the user's leading period lands in the notes.
func NotesExcluded(notes string) bool {
	return strings.HasPrefix(strings.TrimSpace(NormalizeText(notes)), ".")
}

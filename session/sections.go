package session

import "github.com/pithecene-io/arfor/types"

// ApplySection returns a copy of partial with one section replaced.
// Applying the same section twice yields the same value as applying it once.
func ApplySection(partial types.PartialSections, name types.SectionName, content string) types.PartialSections {
	out := partial.Clone()
	out[name] = content
	return out
}

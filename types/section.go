package types

import "maps"

// SectionName identifies one part of the analysis report.
type SectionName string

// Section name constants.
const (
	SectionPrimary     SectionName = "primary"
	SectionComparative SectionName = "comparative"
	SectionSummary     SectionName = "summary"
)

// Report section names used by the pipeline's assembled output.
var sectionAliases = map[string]SectionName{
	"primary":      SectionPrimary,
	"comparative":  SectionComparative,
	"summary":      SectionSummary,
	"deep_dive":    SectionPrimary,
	"perspectives": SectionComparative,
	"synthesis":    SectionSummary,
}

// ParseSectionName normalizes a wire section name.
func ParseSectionName(s string) (SectionName, bool) {
	name, ok := sectionAliases[s]
	return name, ok
}

// PartialSections holds report sections delivered before completion.
// Each slot is replaced wholesale on every update.
type PartialSections map[SectionName]string

// Clone returns an independent copy. A nil receiver yields an empty map.
func (p PartialSections) Clone() PartialSections {
	out := make(PartialSections, len(p))
	maps.Copy(out, p)
	return out
}

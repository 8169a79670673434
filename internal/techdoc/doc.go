// Package techdoc generates a markdown document about a list of
// technologies. An outline is drafted by the LLM while every technology is
// researched on the web; once both are done the results are merged and the
// LLM writes the document.
//
// Store keys written during a run:
//
//	technologies      []string           cleaned input
//	outline           *Outline           document structure
//	research_results  map[string]string  research text per technology
//	final_document    string             the generated markdown
//	outline_complete  bool               completion marker of the outline branch
//	research_complete bool               completion marker of the research branch
package techdoc

const (
	KeyTechnologies     = "technologies"
	KeyOutline          = "outline"
	KeyResearchResults  = "research_results"
	KeyFinalDocument    = "final_document"
	KeyOutlineComplete  = "outline_complete"
	KeyResearchComplete = "research_complete"
)

package schema

import (
	"formloom/api/internal/crdt"
)

// Stats is the lightweight metadata summary derived from document content
// for external indexing. Persisting it is the caller's concern.
type Stats struct {
	PageCount       int
	FieldCount      int
	BackgroundImage string
}

// Summarize reduces the live form structure to summary statistics. It reads
// the same structure Project reads and has no side effects. The second
// return is false when the form key has never been written.
func Summarize(doc *crdt.Doc) (Stats, bool) {
	root, ok := doc.Get(RootKey)
	if !ok {
		return Stats{}, false
	}
	form := asMap(root)

	var stats Stats
	for _, entry := range asList(form["pages"]) {
		stats.PageCount++
		stats.FieldCount += len(asList(asMap(entry)["fields"]))
	}
	stats.BackgroundImage = asString(asMap(form["layout"])["backgroundImage"])
	return stats, true
}

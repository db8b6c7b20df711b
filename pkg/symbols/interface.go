// Package symbols is the core: it builds the immutable prefix-bucketed index of documented
// symbol names and answers incremental prefix queries against it, grouping occurrences by key.
package symbols

// Searcher is the read side of an Index. CLI and server code depend on this
// rather than on *Index so tests can swap in fixed result sets.
type Searcher interface {
	// Search returns every group whose key starts with the normalized query.
	Search(query string) []ResultGroup

	// SearchN is Search capped at limit groups (limit <= 0 means no cap).
	SearchN(query string, limit int) []ResultGroup

	// Lookup returns the group for an exact key.
	Lookup(key string) (ResultGroup, bool)

	// Stats reports counts about the loaded index
	Stats() Stats
}

var _ Searcher = (*Index)(nil)

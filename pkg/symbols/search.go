package symbols

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ResultGroup is every occurrence of one key, in bucket order.
// Label is the display name of the first entry carrying the key.
type ResultGroup struct {
	Key         string       `json:"key" msgpack:"k"`
	Label       string       `json:"label" msgpack:"n"`
	Occurrences []Occurrence `json:"occurrences" msgpack:"o"`
}

// NormalizeQuery applies NFKC, lowercases and trims. The searchdata loaders run
// keys through the same function so stored keys and queries agree.
func NormalizeQuery(q string) string {
	return strings.TrimSpace(strings.ToLower(norm.NFKC.String(q)))
}

// Search returns the groups whose key has query as a prefix, in sorted key order.
// An empty (or all-whitespace) query returns nothing.
func (ix *Index) Search(query string) []ResultGroup {
	return ix.SearchN(query, 0)
}

// SearchN is Search that stops after limit groups; limit <= 0 disables the cap.
func (ix *Index) SearchN(query string, limit int) []ResultGroup {
	q := NormalizeQuery(query)
	if q == "" {
		return nil
	}
	b := ix.bucket(q)
	if b == nil {
		return nil
	}
	lo, hi := b.window(q)
	return groupEntries(b.entries[lo:hi], limit)
}

// Search is the free-function form of (*Index).Search.
func Search(ix *Index, query string) []ResultGroup {
	return ix.Search(query)
}

// groupEntries merges adjacent entries sharing a key. Occurrences are copied
// into fresh slices so callers may modify results freely.
func groupEntries(entries []Entry, limit int) []ResultGroup {
	var groups []ResultGroup
	for i := 0; i < len(entries); {
		g := ResultGroup{Key: entries[i].Key, Label: entries[i].Label}
		j := i
		for ; j < len(entries) && entries[j].Key == g.Key; j++ {
			g.Occurrences = append(g.Occurrences, entries[j].Occurrences...)
		}
		groups = append(groups, g)
		if limit > 0 && len(groups) == limit {
			break
		}
		i = j
	}
	return groups
}

package symbols

import (
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/tchap/go-patricia/v2/patricia"
)

// overflow is the bucket for empty keys and keys that do not start with a letter.
const overflow rune = -1

// span is the half-open range [start, end) of a single key inside a bucket.
type span struct {
	start, end int
}

type bucket struct {
	entries []Entry
	// spans maps each distinct non-empty key to its run in entries.
	spans *patricia.Trie
}

// Index is an immutable snapshot of entries, bucketed by the first rune of the key.
// It is safe for concurrent use once Build returns; nothing mutates it afterwards.
type Index struct {
	buckets map[rune]*bucket
	stats   Stats
}

// Stats holds counts computed once at build time.
type Stats struct {
	Entries     int `json:"entries" msgpack:"entries"`
	Keys        int `json:"keys" msgpack:"keys"`
	Occurrences int `json:"occurrences" msgpack:"occurrences"`
	Buckets     int `json:"buckets" msgpack:"buckets"`
}

// bucketOf classifies a key or a normalized query. Builder and engine share it,
// so a query always lands in the bucket its matches were stored in.
func bucketOf(s string) rune {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || !unicode.IsLetter(r) {
		return overflow
	}
	return r
}

// Build validates entries and returns a new Index. One malformed entry fails the
// whole build and no Index is returned. An empty input yields an empty Index.
func Build(entries []Entry) (*Index, error) {
	for i, e := range entries {
		if err := e.validate(i); err != nil {
			return nil, err
		}
	}

	ix := &Index{buckets: make(map[rune]*bucket)}
	for _, e := range entries {
		id := bucketOf(e.Key)
		b, ok := ix.buckets[id]
		if !ok {
			b = &bucket{}
			ix.buckets[id] = b
		}
		b.entries = append(b.entries, e.clone())
		ix.stats.Occurrences += len(e.Occurrences)
	}

	for _, b := range ix.buckets {
		// Stable: equal (key, label) pairs keep input order.
		sort.SliceStable(b.entries, func(i, j int) bool {
			if b.entries[i].Key != b.entries[j].Key {
				return b.entries[i].Key < b.entries[j].Key
			}
			return b.entries[i].Label < b.entries[j].Label
		})
		ix.stats.Keys += b.indexSpans()
	}

	ix.stats.Entries = len(entries)
	ix.stats.Buckets = len(ix.buckets)
	return ix, nil
}

// indexSpans fills the span trie and returns the number of distinct keys.
func (b *bucket) indexSpans() int {
	b.spans = patricia.NewTrie()
	keys := 0
	for i := 0; i < len(b.entries); {
		j := i + 1
		for j < len(b.entries) && b.entries[j].Key == b.entries[i].Key {
			j++
		}
		if k := b.entries[i].Key; k != "" {
			b.spans.Insert(patricia.Prefix(k), span{start: i, end: j})
		}
		keys++
		i = j
	}
	return keys
}

// window returns the contiguous run of entries whose key starts with prefix.
// Sorted order guarantees prefix matches are adjacent, so the run is the
// hull of every visited span.
func (b *bucket) window(prefix string) (int, int) {
	lo, hi := len(b.entries), 0
	err := b.spans.VisitSubtree(patricia.Prefix(prefix), func(_ patricia.Prefix, item patricia.Item) error {
		s := item.(span)
		if s.start < lo {
			lo = s.start
		}
		if s.end > hi {
			hi = s.end
		}
		return nil
	})
	if err != nil {
		log.Errorf("Error visiting span trie: %v", err)
		return 0, 0
	}
	if lo >= hi {
		return 0, 0
	}
	return lo, hi
}

func (ix *Index) bucket(q string) *bucket {
	if ix == nil {
		return nil
	}
	return ix.buckets[bucketOf(q)]
}

// Lookup returns the group for exactly key, after query normalization.
func (ix *Index) Lookup(key string) (ResultGroup, bool) {
	k := NormalizeQuery(key)
	b := ix.bucket(k)
	if k == "" || b == nil {
		return ResultGroup{}, false
	}
	item := b.spans.Get(patricia.Prefix(k))
	if item == nil {
		return ResultGroup{}, false
	}
	s := item.(span)
	groups := groupEntries(b.entries[s.start:s.end], 1)
	return groups[0], true
}

// Stats returns counts computed at build time. A nil Index reports zeros.
func (ix *Index) Stats() Stats {
	if ix == nil {
		return Stats{}
	}
	return ix.stats
}

// Len is the number of entries in the index.
func (ix *Index) Len() int {
	return ix.Stats().Entries
}

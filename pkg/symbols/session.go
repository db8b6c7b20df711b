package symbols

import "strings"

// Session follows one search box as the user types. When a query extends the
// previous one, only the previous match window is rescanned. Results are always
// identical to Index.Search for the same query.
//
// A Session is not safe for concurrent use; the Index behind it is.
type Session struct {
	ix *Index

	query  string
	b      *bucket
	lo, hi int
	primed bool
}

// NewSession returns a Session over ix.
func NewSession(ix *Index) *Session {
	return &Session{ix: ix}
}

// Update replaces the current query and returns its results.
func (s *Session) Update(query string) []ResultGroup {
	return s.UpdateN(query, 0)
}

// UpdateN is Update with a group limit (limit <= 0 means unlimited).
func (s *Session) UpdateN(query string, limit int) []ResultGroup {
	q := NormalizeQuery(query)
	if q == "" {
		s.Reset()
		return nil
	}

	if s.primed && strings.HasPrefix(q, s.query) {
		s.narrow(q)
	} else {
		s.b = s.ix.bucket(q)
		s.lo, s.hi = 0, 0
		if s.b != nil {
			s.lo, s.hi = s.b.window(q)
		}
	}
	s.query = q
	s.primed = true

	if s.b == nil {
		return nil
	}
	return groupEntries(s.b.entries[s.lo:s.hi], limit)
}

// narrow shrinks [lo, hi) to the entries matching q. Matches stay contiguous
// inside the previous window because the bucket is sorted.
func (s *Session) narrow(q string) {
	if s.b == nil {
		return
	}
	lo := s.lo
	for lo < s.hi && !strings.HasPrefix(s.b.entries[lo].Key, q) {
		lo++
	}
	hi := lo
	for hi < s.hi && strings.HasPrefix(s.b.entries[hi].Key, q) {
		hi++
	}
	s.lo, s.hi = lo, hi
}

// Query is the normalized query of the last Update.
func (s *Session) Query() string {
	return s.query
}

// Reset forgets the previous query, e.g. after the input is cleared.
func (s *Session) Reset() {
	s.query = ""
	s.b = nil
	s.lo, s.hi = 0, 0
	s.primed = false
}

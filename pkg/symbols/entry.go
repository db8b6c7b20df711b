package symbols

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrMalformedEntry is matched (errors.Is) by every build-time validation failure.
var ErrMalformedEntry = errors.New("malformed entry")

// Occurrence is one place a symbol is documented. Anchor is opaque and is
// handed back to callers exactly as it was given.
type Occurrence struct {
	Scope  string `json:"scope" msgpack:"scope"`
	Anchor string `json:"anchor" msgpack:"anchor"`
}

// Entry is one documented symbol as produced by the extraction step.
// Key must already be normalized the way NormalizeQuery normalizes queries
// (NFKC, lowercase, no surrounding whitespace).
type Entry struct {
	Key         string       `json:"key" msgpack:"key"`
	Label       string       `json:"label" msgpack:"label"`
	Occurrences []Occurrence `json:"occurrences" msgpack:"occurrences"`
}

// MalformedEntryError describes the first entry that failed validation.
type MalformedEntryError struct {
	Position int
	Key      string
	Reason   string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("malformed entry at position %d (key %q): %s", e.Position, e.Key, e.Reason)
}

func (e *MalformedEntryError) Unwrap() error { return ErrMalformedEntry }

// validate checks the preconditions Build relies on. It does not normalize.
func (e Entry) validate(pos int) error {
	switch {
	case len(e.Occurrences) == 0:
		return &MalformedEntryError{Position: pos, Key: e.Key, Reason: "no occurrences"}
	case strings.TrimSpace(e.Key) != e.Key:
		return &MalformedEntryError{Position: pos, Key: e.Key, Reason: "leading or trailing whitespace in key"}
	case strings.ToLower(e.Key) != e.Key:
		return &MalformedEntryError{Position: pos, Key: e.Key, Reason: "key is not lowercase"}
	case !norm.NFKC.IsNormalString(e.Key):
		return &MalformedEntryError{Position: pos, Key: e.Key, Reason: "key is not in NFKC form"}
	}
	return nil
}

// clone copies the occurrence slice so the index never aliases caller memory.
func (e Entry) clone() Entry {
	occ := make([]Occurrence, len(e.Occurrences))
	copy(occ, e.Occurrences)
	e.Occurrences = occ
	return e
}

// Package models defines the domain types for tagdex.
package models

import (
	"sort"
	"strconv"
	"strings"
)

// Serial is the compact code assigned to a tag at creation. It is the path
// segment used in offset paths instead of the full identifier.
type Serial uint32

// String returns the decimal form used as an offset path segment.
func (s Serial) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// ParseSerial parses a decimal serial. Zero is rejected.
func ParseSerial(s string) (Serial, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return Serial(n), true
}

// IdentifierSeparator joins identifier tokens into their canonical string form.
const IdentifierSeparator = ":"

// Identifier is the ordered sequence of namespace tokens naming a tag.
type Identifier []string

// ParseIdentifier splits s on the separator, trimming whitespace around tokens.
// Empty tokens are dropped.
func ParseIdentifier(s string) Identifier {
	var out Identifier
	for _, tok := range strings.Split(s, IdentifierSeparator) {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func (id Identifier) String() string {
	return strings.Join(id, IdentifierSeparator)
}

// PathSet is a set of offset path strings.
type PathSet map[string]struct{}

// NewPathSet builds a set from paths, dropping duplicates.
func NewPathSet(paths ...string) PathSet {
	s := make(PathSet, len(paths))
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

// Add inserts p and reports whether it was new.
func (s PathSet) Add(p string) bool {
	if _, ok := s[p]; ok {
		return false
	}
	s[p] = struct{}{}
	return true
}

// Has reports membership.
func (s PathSet) Has(p string) bool {
	_, ok := s[p]
	return ok
}

// Len returns the number of paths.
func (s PathSet) Len() int { return len(s) }

// Sorted returns the paths in byte-wise lexical order.
func (s PathSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s PathSet) Clone() PathSet {
	out := make(PathSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// TagDefinition is the catalog record of one tag.
type TagDefinition struct {
	Serial      Serial
	Identifier  Identifier
	OffsetPaths PathSet
	// UnitCount is the number of documents with any populated offset of this
	// tag, as of the last full scan.
	UnitCount int
}

// Clone returns a copy whose path set can be mutated independently.
func (d TagDefinition) Clone() TagDefinition {
	out := d
	out.Identifier = append(Identifier(nil), d.Identifier...)
	if d.OffsetPaths != nil {
		out.OffsetPaths = d.OffsetPaths.Clone()
	} else {
		out.OffsetPaths = PathSet{}
	}
	return out
}

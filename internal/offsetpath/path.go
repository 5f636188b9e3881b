// Package offsetpath translates between tag serials and the dot-joined offset
// paths that locate tag values inside documents.
package offsetpath

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/models"
)

// Separator joins serials in an offset path.
const Separator = "."

// Path is a parsed offset path, root first.
type Path []models.Serial

// Parse validates s and splits it into serials.
func Parse(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty path", apperr.ErrMalformedPath)
	}
	parts := strings.Split(s, Separator)
	out := make(Path, 0, len(parts))
	for _, part := range parts {
		serial, ok := models.ParseSerial(part)
		if !ok {
			return nil, fmt.Errorf("%w: bad segment %q in %q", apperr.ErrMalformedPath, part, s)
		}
		out = append(out, serial)
	}
	return out, nil
}

// Join builds a path from serials.
func Join(serials ...models.Serial) Path {
	return Path(serials)
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, Separator)
}

// Tag returns the serial of the tag the path denotes: its final segment.
func (p Path) Tag() models.Serial {
	if len(p) == 0 {
		return 0
	}
	return p[len(p)-1]
}

// JSONPath renders the path in SQLite json_extract syntax, e.g. $."3"."7".
func (p Path) JSONPath() string {
	var b strings.Builder
	b.WriteByte('$')
	for _, s := range p {
		b.WriteString(`."`)
		b.WriteString(s.String())
		b.WriteByte('"')
	}
	return b.String()
}

// Expr returns the equivalent jsonpath expression for in-memory lookups.
func (p Path) Expr() jp.Expr {
	x := jp.R()
	for _, s := range p {
		x = x.C(s.String())
	}
	return x
}

// TagOf returns the final segment of a raw path string.
func TagOf(s string) (models.Serial, error) {
	p, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return p.Tag(), nil
}

// HasTagSuffix reports whether the raw path s is well formed and ends in serial.
func HasTagSuffix(s string, serial models.Serial) bool {
	tag, err := TagOf(s)
	return err == nil && tag == serial
}

// Lookup returns the value stored at path in body. JSON null counts as absent.
func Lookup(body map[string]any, path Path) (any, bool) {
	if len(path) == 0 || body == nil {
		return nil, false
	}
	for _, v := range path.Expr().Get(body) {
		if v != nil {
			return v, true
		}
	}
	return nil, false
}

// Populated returns every leaf offset path that holds a non-null value in
// body, sorted. Keys that are not serials are skipped, so bookkeeping fields
// such as _derived never show up as offsets.
func Populated(body map[string]any) []string {
	var out []string
	collect(body, "", &out)
	sort.Strings(out)
	return out
}

func collect(node map[string]any, prefix string, out *[]string) {
	for key, v := range node {
		if _, ok := models.ParseSerial(key); !ok || v == nil {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + Separator + key
		}
		if child, ok := v.(map[string]any); ok && hasSerialKey(child) {
			collect(child, path, out)
			continue
		}
		*out = append(*out, path)
	}
}

func hasSerialKey(m map[string]any) bool {
	for k := range m {
		if _, ok := models.ParseSerial(k); ok {
			return true
		}
	}
	return false
}

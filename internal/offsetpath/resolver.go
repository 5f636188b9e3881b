package offsetpath

import (
	"fmt"
	"strings"

	"github.com/starford/tagdex/internal/models"
)

// Catalog is the read side of the tag dictionary the resolver depends on.
type Catalog interface {
	Definition(serial models.Serial) (models.TagDefinition, error)
}

// Resolver answers path questions against the dictionary.
type Resolver struct {
	catalog Catalog
}

// NewResolver layers a resolver over catalog.
func NewResolver(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// PathsForTag returns a copy of the offsets observed for serial.
func (r *Resolver) PathsForTag(serial models.Serial) (models.PathSet, error) {
	def, err := r.catalog.Definition(serial)
	if err != nil {
		return nil, err
	}
	if def.OffsetPaths == nil {
		return models.PathSet{}, nil
	}
	return def.OffsetPaths.Clone(), nil
}

// TagForPath returns the serial of the last segment of path.
func (r *Resolver) TagForPath(path string) (models.Serial, error) {
	return TagOf(path)
}

// MatchesTagSuffix reports whether path belongs to the tag serial. A tag can
// be nested under several parents, so only the final segment is compared.
func (r *Resolver) MatchesTagSuffix(path string, serial models.Serial) bool {
	return HasTagSuffix(path, serial)
}

// Describe renders path with identifiers instead of serials, e.g.
// "geo:city > name".
func (r *Resolver) Describe(path string) (string, error) {
	p, err := Parse(path)
	if err != nil {
		return "", err
	}
	names := make([]string, len(p))
	for i, serial := range p {
		def, err := r.catalog.Definition(serial)
		if err != nil {
			return "", fmt.Errorf("describe %s: %w", path, err)
		}
		names[i] = def.Identifier.String()
	}
	return strings.Join(names, " > "), nil
}

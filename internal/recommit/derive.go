package recommit

import (
	"context"
	"fmt"

	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/offsetpath"
)

// DerivedField is the body key DeriveTags owns.
const DerivedField = "_derived"

// DeriveTags returns a recompute function that rebuilds the derived section
// of a document from its tag fields:
//
//	"_derived": {
//	  "offsets": ["3.7", "5.7"],
//	  "tags":    {"geo:name": ["Paris", "France"]}
//	}
//
// Values are listed in offset order. The result depends only on the tag
// fields, so applying it twice yields the same document. A field naming a tag
// missing from catalog fails the document.
func DeriveTags(catalog offsetpath.Catalog) RecomputeFunc {
	return func(_ context.Context, doc models.Document) (models.Document, error) {
		offsets := offsetpath.Populated(doc.Body)
		tags := make(map[string]any)
		for _, raw := range offsets {
			path, err := offsetpath.Parse(raw)
			if err != nil {
				return doc, err
			}
			def, err := catalog.Definition(path.Tag())
			if err != nil {
				return doc, fmt.Errorf("offset %s: %w", raw, err)
			}
			v, _ := offsetpath.Lookup(doc.Body, path)
			name := def.Identifier.String()
			values, _ := tags[name].([]any)
			tags[name] = append(values, v)
		}
		if offsets == nil {
			offsets = []string{}
		}

		body := make(map[string]any, len(doc.Body)+1)
		for k, v := range doc.Body {
			body[k] = v
		}
		body[DerivedField] = map[string]any{
			"offsets": offsets,
			"tags":    tags,
		}
		doc.Body = body
		return doc, nil
	}
}

// Package planner decides which offset paths of a tag deserve a sparse index
// and reconciles the store's indexes with that decision.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/tagdex/internal/metrics"
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/offsetpath"
)

// IndexPrefix starts the name of every index the planner owns.
const IndexPrefix = "tagdex_off_"

// Catalog exposes tag definitions.
type Catalog interface {
	Definition(serial models.Serial) (models.TagDefinition, error)
}

// Counter counts documents matching a query. The planner delegates per-offset
// counts to it instead of keeping its own.
type Counter interface {
	CountPopulated(ctx context.Context, q models.Query) (int, error)
}

// Planner produces index specifications from usage counters. Offset
// questions go through an offsetpath.Resolver over the same catalog.
type Planner struct {
	catalog    Catalog
	paths      *offsetpath.Resolver
	counter    Counter
	background bool
	metrics    *metrics.Planner
}

// Option configures a Planner.
type Option func(*Planner)

// WithBackground marks planned indexes for background builds.
func WithBackground(on bool) Option {
	return func(p *Planner) { p.background = on }
}

// WithResolver shares an existing resolver instead of building one over the
// catalog.
func WithResolver(r *offsetpath.Resolver) Option {
	return func(p *Planner) { p.paths = r }
}

// WithMetrics attaches reconcile instruments.
func WithMetrics(m *metrics.Planner) Option {
	return func(p *Planner) { p.metrics = m }
}

// New creates a planner.
func New(catalog Catalog, counter Counter, opts ...Option) *Planner {
	p := &Planner{catalog: catalog, counter: counter}
	for _, opt := range opts {
		opt(p)
	}
	if p.paths == nil {
		p.paths = offsetpath.NewResolver(catalog)
	}
	return p
}

// Plan returns one sparse index per offset of serial populated in more than
// minimumCount documents, ordered by offset path. A tag whose unit count does
// not exceed minimumCount, or that has no observed offsets, yields an empty
// plan without consulting the counter.
func (p *Planner) Plan(ctx context.Context, serial models.Serial, minimumCount int) ([]models.IndexSpec, error) {
	def, err := p.catalog.Definition(serial)
	if err != nil {
		return nil, fmt.Errorf("planner: plan: %w", err)
	}
	out := []models.IndexSpec{}
	if def.UnitCount <= minimumCount {
		return out, nil
	}
	paths, err := p.paths.PathsForTag(serial)
	if err != nil {
		return nil, fmt.Errorf("planner: plan: %w", err)
	}

	for _, path := range paths.Sorted() {
		if !p.paths.MatchesTagSuffix(path, serial) {
			continue
		}
		n, err := p.counter.CountPopulated(ctx, models.Query{Populated: []string{path}})
		if err != nil {
			return nil, fmt.Errorf("planner: count %s: %w", path, err)
		}
		if n <= minimumCount {
			continue
		}
		out = append(out, models.IndexSpec{
			OffsetPath: path,
			Name:       IndexName(path),
			Sparse:     true,
			Background: p.background,
		})
	}
	return out, nil
}

// IndexName derives the index name for an offset path. Segments are decimal
// digits, so the mapping is injective.
func IndexName(path string) string {
	return IndexPrefix + strings.ReplaceAll(path, offsetpath.Separator, "_")
}

// PathFromIndexName inverts IndexName. It reports false for names the planner
// does not own.
func PathFromIndexName(name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, IndexPrefix)
	if !ok {
		return "", false
	}
	path := strings.ReplaceAll(rest, "_", offsetpath.Separator)
	if _, err := offsetpath.Parse(path); err != nil {
		return "", false
	}
	return path, true
}

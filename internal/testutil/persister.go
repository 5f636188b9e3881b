package testutil

import (
	"context"
	"sync"

	"github.com/starford/tagdex/internal/models"
)

// MemPersister keeps dictionary records in memory.
type MemPersister struct {
	mu     sync.Mutex
	defs   []models.TagDefinition
	writes int
}

// NewMemPersister returns a persister preloaded with defs.
func NewMemPersister(defs ...models.TagDefinition) *MemPersister {
	return &MemPersister{defs: cloneDefs(defs)}
}

func (p *MemPersister) LoadAll(context.Context) ([]models.TagDefinition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneDefs(p.defs), nil
}

func (p *MemPersister) WriteBack(_ context.Context, defs []models.TagDefinition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defs = cloneDefs(defs)
	p.writes++
	return nil
}

// Writes returns how many times WriteBack ran.
func (p *MemPersister) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// Stored returns the last written records.
func (p *MemPersister) Stored() []models.TagDefinition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneDefs(p.defs)
}

func cloneDefs(defs []models.TagDefinition) []models.TagDefinition {
	out := make([]models.TagDefinition, len(defs))
	for i, d := range defs {
		out[i] = d.Clone()
	}
	return out
}

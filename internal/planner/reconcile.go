package planner

import (
	"context"
	"fmt"

	"github.com/starford/tagdex/internal/models"
)

// Indexer manages the persistent indexes of the store.
type Indexer interface {
	CreateIndex(ctx context.Context, spec models.IndexSpec) error
	DropIndex(ctx context.Context, name string) error
	ListIndexes(ctx context.Context) ([]models.IndexSpec, error)
}

// Result lists what a reconcile did, by index name.
type Result struct {
	Planned []models.IndexSpec `json:"planned"`
	Created []string           `json:"created"`
	Dropped []string           `json:"dropped"`
	Kept    []string           `json:"kept"`
}

// Reconcile plans indexes for serial, creates the missing ones and drops
// planner-owned indexes of the same tag that are no longer planned. Indexes
// of other tags and indexes without the planner prefix are left alone. Both
// create and drop are idempotent, so a failed reconcile can simply be rerun.
func (p *Planner) Reconcile(ctx context.Context, serial models.Serial, minimumCount int, ix Indexer) (Result, error) {
	planned, err := p.Plan(ctx, serial, minimumCount)
	if err != nil {
		return Result{}, err
	}
	existing, err := ix.ListIndexes(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("planner: reconcile: %w", err)
	}

	owned := make(map[string]struct{})
	for _, spec := range existing {
		path, ok := PathFromIndexName(spec.Name)
		if !ok {
			continue
		}
		if tag, err := p.paths.TagForPath(path); err == nil && tag == serial {
			owned[spec.Name] = struct{}{}
		}
	}

	res := Result{Planned: planned, Created: []string{}, Dropped: []string{}, Kept: []string{}}
	wanted := make(map[string]struct{}, len(planned))
	for _, spec := range planned {
		wanted[spec.Name] = struct{}{}
		if _, ok := owned[spec.Name]; ok {
			res.Kept = append(res.Kept, spec.Name)
			continue
		}
		if err := ix.CreateIndex(ctx, spec); err != nil {
			return res, fmt.Errorf("planner: reconcile: %w", err)
		}
		res.Created = append(res.Created, spec.Name)
	}
	for _, spec := range existing {
		if _, ok := owned[spec.Name]; !ok {
			continue
		}
		if _, ok := wanted[spec.Name]; ok {
			continue
		}
		if err := ix.DropIndex(ctx, spec.Name); err != nil {
			return res, fmt.Errorf("planner: reconcile: %w", err)
		}
		res.Dropped = append(res.Dropped, spec.Name)
	}

	p.metrics.Index("created", len(res.Created))
	p.metrics.Index("dropped", len(res.Dropped))
	p.metrics.Index("kept", len(res.Kept))
	return res, nil
}

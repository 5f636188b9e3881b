package recommit

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/models"
)

// RunPartitions runs one recommit per query concurrently. The queries must
// split the collection into disjoint identity ranges [IDFrom, IDTo) so that no
// document is processed twice; overlapping ranges are rejected before any
// run starts. Each partition gets its own run id, derived from the configured
// one. The first fatal error cancels the remaining partitions between windows.
func (p *Pipeline) RunPartitions(ctx context.Context, parts []models.Query, windowSize int, fn RecomputeFunc, opts ...RunOption) ([]Stats, error) {
	if err := checkDisjoint(parts); err != nil {
		return nil, err
	}
	base := newRunConfig(opts).runID

	stats := make([]Stats, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range parts {
		runOpts := append(append([]RunOption(nil), opts...), WithRunID(fmt.Sprintf("%s-%d", base, i)))
		g.Go(func() error {
			st, err := p.Run(gctx, q, windowSize, fn, runOpts...)
			stats[i] = st
			return err
		})
	}
	return stats, g.Wait()
}

func checkDisjoint(parts []models.Query) error {
	sorted := append([]models.Query(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].IDFrom < sorted[j].IDFrom })
	for i, q := range sorted {
		if q.IDTo != "" && q.IDFrom >= q.IDTo {
			return fmt.Errorf("recommit: partitions: %w: empty range [%q, %q)", apperr.ErrInvalidArgument, q.IDFrom, q.IDTo)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.IDTo == "" || prev.IDTo > q.IDFrom {
			return fmt.Errorf("recommit: partitions: %w: [%q, %q) overlaps [%q, %q)",
				apperr.ErrInvalidArgument, prev.IDFrom, prev.IDTo, q.IDFrom, q.IDTo)
		}
	}
	return nil
}

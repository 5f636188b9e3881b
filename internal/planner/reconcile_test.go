package planner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/planner"
	"github.com/starford/tagdex/internal/testutil"
)

func TestReconcileAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	testutil.Seed(t, db, 12, func(i int) map[string]any {
		body := map[string]any{"3": map[string]any{"7": i}}
		if i < 2 {
			body["5"] = map[string]any{"7": i}
		}
		return body
	})

	// A stale index for an offset that no longer qualifies and an index of
	// another tag that must survive.
	require.NoError(t, db.CreateIndex(ctx, models.IndexSpec{OffsetPath: "5.7", Name: planner.IndexName("5.7"), Sparse: true}))
	require.NoError(t, db.CreateIndex(ctx, models.IndexSpec{OffsetPath: "3", Name: planner.IndexName("3"), Sparse: true}))

	cat := geoCatalog(12, "3.7", "5.7")
	p := planner.New(cat, db)

	res, err := p.Reconcile(ctx, 7, 5, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"tagdex_off_3_7"}, res.Created)
	assert.Equal(t, []string{"tagdex_off_5_7"}, res.Dropped)
	assert.Empty(t, res.Kept)

	idx, err := db.ListIndexes(ctx)
	require.NoError(t, err)
	var names []string
	for _, s := range idx {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "tagdex_off_3_7")
	assert.Contains(t, names, "tagdex_off_3")
	assert.NotContains(t, names, "tagdex_off_5_7")

	again, err := p.Reconcile(ctx, 7, 5, db)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Empty(t, again.Dropped)
	assert.Equal(t, []string{"tagdex_off_3_7"}, again.Kept)
}

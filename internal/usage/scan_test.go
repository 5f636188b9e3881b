package usage_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/dictionary"
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/planner"
	"github.com/starford/tagdex/internal/testutil"
	"github.com/starford/tagdex/internal/usage"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func loadedDict(t *testing.T) (*dictionary.Dictionary, *testutil.MemPersister) {
	t.Helper()
	p := testutil.NewMemPersister(testutil.GeoTags()...)
	d := dictionary.New(p)
	require.NoError(t, d.Load(context.Background()))
	return d, p
}

func TestScanCountsUnitsPerTag(t *testing.T) {
	store := testutil.NewMemStore()
	testutil.Seed(t, store, 30, func(i int) map[string]any {
		body := map[string]any{"3": map[string]any{"7": "Paris"}}
		if i%3 == 0 {
			// Two offsets of tag 7 in one document count as one unit.
			body["5"] = map[string]any{"7": "France"}
		}
		return body
	})
	dict, p := loadedDict(t)

	var progress []usage.Progress
	s := usage.New(store, dict, discard(),
		usage.WithWindowSize(7),
		usage.WithProgress(func(pr usage.Progress) { progress = append(progress, pr) }),
	)
	rep, err := s.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 30, rep.Documents)
	assert.Equal(t, 5, rep.Batches)
	assert.Zero(t, rep.UnknownPaths)
	assert.Equal(t, 30, rep.Counters[7])
	assert.Zero(t, rep.Counters[3])

	counts := dict.OffsetCounts()
	assert.Equal(t, 30, counts["3.7"])
	assert.Equal(t, 10, counts["5.7"])

	def, err := dict.Definition(7)
	require.NoError(t, err)
	assert.Equal(t, []string{"3.7", "5.7"}, def.OffsetPaths.Sorted())

	require.Len(t, progress, 5)
	assert.Equal(t, 30, progress[4].Documents)
	assert.Equal(t, 1, p.Writes())
}

func TestScanResetsStaleCounts(t *testing.T) {
	store := testutil.NewMemStore()
	testutil.Seed(t, store, 10, func(int) map[string]any {
		return map[string]any{"3": map[string]any{"7": 1}}
	})
	dict, _ := loadedDict(t)
	s := usage.New(store, dict, discard())

	_, err := s.Scan(context.Background())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Delete(context.Background(), testutil.DocID(i)))
	}
	rep, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, rep.Counters[7])
	assert.Equal(t, 6, dict.OffsetCounts()["3.7"])
}

func TestScanSkipsUnknownTags(t *testing.T) {
	store := testutil.NewMemStore()
	testutil.Seed(t, store, 4, func(int) map[string]any {
		return map[string]any{
			"3":  map[string]any{"7": "x"},
			"42": "unknown",
		}
	})
	dict, _ := loadedDict(t)

	rep, err := usage.New(store, dict, discard()).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, rep.UnknownPaths)
	assert.Equal(t, 4, rep.Counters[7])

	_, err = dict.Definition(42)
	assert.ErrorIs(t, err, apperr.ErrUnknownTag)
}

func TestScanFetchErrorSkipsPersist(t *testing.T) {
	store := testutil.NewMemStore()
	testutil.Seed(t, store, 20, func(int) map[string]any {
		return map[string]any{"3": map[string]any{"7": 1}}
	})
	store.FindHook = func(call int, _ models.Query, _ models.Window) error {
		if call == 2 {
			return apperr.ErrStoreConnectivity
		}
		return nil
	}
	dict, p := loadedDict(t)

	_, err := usage.New(store, dict, discard(), usage.WithWindowSize(10)).Scan(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrStoreConnectivity))
	assert.Zero(t, p.Writes())
}

func TestScanStopsOnCancel(t *testing.T) {
	store := testutil.NewMemStore()
	testutil.Seed(t, store, 50, func(int) map[string]any {
		return map[string]any{"3": map[string]any{"7": 1}}
	})
	dict, p := loadedDict(t)

	ctx, cancel := context.WithCancel(context.Background())
	s := usage.New(store, dict, discard(),
		usage.WithWindowSize(10),
		usage.WithProgress(func(pr usage.Progress) {
			if pr.Batch == 2 {
				cancel()
			}
		}),
	)
	rep, err := s.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 20, rep.Documents)
	assert.Zero(t, p.Writes())
}

func TestFailedScanKeepsPreviousCounters(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	testutil.Seed(t, store, 200, func(int) map[string]any {
		return map[string]any{"3": map[string]any{"7": "Paris"}}
	})
	dict, p := loadedDict(t)

	_, err := usage.New(store, dict, discard(), usage.WithWindowSize(50)).Scan(ctx)
	require.NoError(t, err)
	before, err := dict.Definition(7)
	require.NoError(t, err)
	require.Equal(t, 200, before.UnitCount)

	plans := planner.New(dict, store)
	planBefore, err := plans.Plan(ctx, 7, 100)
	require.NoError(t, err)
	require.Len(t, planBefore, 1)

	base := store.FindCalls()
	store.FindHook = func(call int, _ models.Query, _ models.Window) error {
		if call-base == 2 {
			return apperr.ErrStoreConnectivity
		}
		return nil
	}
	var during []int
	s := usage.New(store, dict, discard(),
		usage.WithWindowSize(50),
		usage.WithProgress(func(usage.Progress) {
			def, _ := dict.Definition(7)
			during = append(during, def.UnitCount)
		}),
	)
	_, err = s.Scan(ctx)
	require.ErrorIs(t, err, apperr.ErrStoreConnectivity)
	store.FindHook = nil

	// Readers never see the partial recount.
	assert.Equal(t, []int{200}, during)

	after, err := dict.Definition(7)
	require.NoError(t, err)
	assert.Equal(t, before.UnitCount, after.UnitCount)
	assert.Equal(t, before.OffsetPaths.Sorted(), after.OffsetPaths.Sorted())
	assert.Equal(t, 200, dict.OffsetCounts()["3.7"])
	assert.Equal(t, 1, p.Writes())

	planAfter, err := plans.Plan(ctx, 7, 100)
	require.NoError(t, err)
	assert.Equal(t, planBefore, planAfter)
}

func TestCancelledScanKeepsPreviousCounters(t *testing.T) {
	store := testutil.NewMemStore()
	testutil.Seed(t, store, 40, func(int) map[string]any {
		return map[string]any{"3": map[string]any{"7": 1}}
	})
	dict, _ := loadedDict(t)
	_, err := usage.New(store, dict, discard()).Scan(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := usage.New(store, dict, discard(),
		usage.WithWindowSize(10),
		usage.WithProgress(func(usage.Progress) { cancel() }),
	)
	_, err = s.Scan(ctx)
	require.ErrorIs(t, err, context.Canceled)

	def, err := dict.Definition(7)
	require.NoError(t, err)
	assert.Equal(t, 40, def.UnitCount)
	assert.Equal(t, 40, dict.OffsetCounts()["3.7"])
}

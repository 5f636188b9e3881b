package recommit_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/recommit"
	"github.com/starford/tagdex/internal/testutil"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func seeded(t *testing.T, n int) *testutil.MemStore {
	t.Helper()
	store := testutil.NewMemStore()
	testutil.Seed(t, store, n, func(i int) map[string]any {
		return map[string]any{"3": map[string]any{"7": fmt.Sprintf("city-%d", i)}}
	})
	return store
}

// stamp marks every document; the result is the same on every application.
func stamp(_ context.Context, doc models.Document) (models.Document, error) {
	doc.Body["stamped"] = true
	return doc, nil
}

func failOn(id string, fn recommit.RecomputeFunc) recommit.RecomputeFunc {
	return func(ctx context.Context, doc models.Document) (models.Document, error) {
		if doc.ID == id {
			return doc, errors.New("bad document")
		}
		return fn(ctx, doc)
	}
}

func TestRunRecordsFailureAndContinues(t *testing.T) {
	store := seeded(t, 100)
	p := recommit.New(store, discard())

	st, err := p.Run(context.Background(), models.Query{}, 100, failOn(testutil.DocID(56), stamp))
	require.NoError(t, err)
	assert.Equal(t, 99, st.Processed)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, []string{testutil.DocID(56)}, st.FailedIDs)
	assert.Equal(t, 99, store.Upserts()-100)

	snap := store.Snapshot()
	assert.Nil(t, snap[testutil.DocID(56)].Body["stamped"])
	assert.Equal(t, true, snap[testutil.DocID(57)].Body["stamped"])
}

func TestRunIsIdempotent(t *testing.T) {
	store := seeded(t, 40)
	p := recommit.New(store, discard())
	ctx := context.Background()

	first, err := p.Run(ctx, models.Query{}, 15, stamp)
	require.NoError(t, err)
	assert.Equal(t, 40, first.Processed)
	assert.Zero(t, first.Unchanged)
	after := store.Snapshot()

	second, err := p.Run(ctx, models.Query{}, 15, stamp)
	require.NoError(t, err)
	assert.Equal(t, 40, second.Processed)
	assert.Equal(t, 40, second.Unchanged)
	assert.Equal(t, after, store.Snapshot())
}

func TestResumeMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()

	full := seeded(t, 250)
	_, err := recommit.New(full, discard()).Run(ctx, models.Query{}, 100, stamp)
	require.NoError(t, err)

	store := seeded(t, 250)
	store.FindHook = func(call int, _ models.Query, _ models.Window) error {
		if call == 3 {
			return fmt.Errorf("docstore: find: %w", apperr.ErrStoreConnectivity)
		}
		return nil
	}
	p := recommit.New(store, discard())
	st, err := p.Run(ctx, models.Query{}, 100, stamp)
	var runErr *recommit.RunError
	require.ErrorAs(t, err, &runErr)
	assert.ErrorIs(t, err, apperr.ErrStoreConnectivity)
	assert.Equal(t, 200, runErr.Skip)
	assert.Equal(t, 200, st.Processed)

	store.FindHook = nil
	resumed, err := p.Run(ctx, models.Query{}, 100, stamp, recommit.WithStartSkip(runErr.Skip))
	require.NoError(t, err)
	assert.Equal(t, 50, resumed.Processed)
	assert.Equal(t, full.Snapshot(), store.Snapshot())
}

func TestConnectivityOnWriteAborts(t *testing.T) {
	store := seeded(t, 300)
	store.UpsertHook = func(doc models.Document) error {
		if doc.ID == testutil.DocID(150) {
			return fmt.Errorf("docstore: upsert: %w", apperr.ErrStoreConnectivity)
		}
		return nil
	}
	st, err := recommit.New(store, discard()).Run(context.Background(), models.Query{}, 100, stamp)
	var runErr *recommit.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 100, runErr.Skip)
	assert.Equal(t, 150, st.Processed)
	assert.Zero(t, st.Failed)
}

func TestCancellationFinishesWindow(t *testing.T) {
	store := seeded(t, 300)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fn := func(c context.Context, doc models.Document) (models.Document, error) {
		if doc.ID == testutil.DocID(110) {
			cancel()
		}
		return stamp(c, doc)
	}
	st, err := recommit.New(store, discard()).Run(ctx, models.Query{}, 100, fn)
	assert.ErrorIs(t, err, context.Canceled)
	var runErr *recommit.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 200, runErr.Skip)
	assert.Equal(t, 200, st.Processed)
	assert.Equal(t, 200, store.Upserts()-300)
}

func TestRecomputeMustKeepID(t *testing.T) {
	store := seeded(t, 5)
	fn := func(_ context.Context, doc models.Document) (models.Document, error) {
		doc.ID += "-copy"
		return doc, nil
	}
	st, err := recommit.New(store, discard()).Run(context.Background(), models.Query{}, 10, fn)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Failed)
	assert.Equal(t, 5, store.Len())
}

func TestRecomputePanicIsRecorded(t *testing.T) {
	store := seeded(t, 10)
	fn := func(ctx context.Context, doc models.Document) (models.Document, error) {
		if doc.ID == testutil.DocID(3) {
			panic("boom")
		}
		return stamp(ctx, doc)
	}
	st, err := recommit.New(store, discard()).Run(context.Background(), models.Query{}, 4, fn)
	require.NoError(t, err)
	assert.Equal(t, 9, st.Processed)
	assert.Equal(t, 1, st.Failed)
}

func TestNonFatalWriteErrorIsRecorded(t *testing.T) {
	store := seeded(t, 10)
	store.UpsertHook = func(doc models.Document) error {
		if doc.ID == testutil.DocID(4) {
			return errors.New("constraint violated")
		}
		return nil
	}
	st, err := recommit.New(store, discard()).Run(context.Background(), models.Query{}, 3, stamp)
	require.NoError(t, err)
	assert.Equal(t, 9, st.Processed)
	assert.Equal(t, []string{testutil.DocID(4)}, st.FailedIDs)
}

func TestRunRejectsBadWindow(t *testing.T) {
	_, err := recommit.New(seeded(t, 1), discard()).Run(context.Background(), models.Query{}, 0, stamp)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestProgressPerWindow(t *testing.T) {
	store := seeded(t, 25)
	var got []recommit.Progress
	p := recommit.New(store, discard(), recommit.WithProgress(func(pr recommit.Progress) { got = append(got, pr) }))
	_, err := p.Run(context.Background(), models.Query{}, 10, stamp, recommit.WithRunID("run-1"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "run-1", got[2].RunID)
	assert.Equal(t, 20, got[2].Skip)
	assert.Equal(t, 25, got[2].Processed)
}

func TestKeysetRun(t *testing.T) {
	store := seeded(t, 35)
	st, err := recommit.New(store, discard()).Run(context.Background(), models.Query{}, 10, stamp, recommit.WithKeyset(0))
	require.NoError(t, err)
	assert.Equal(t, 35, st.Processed)
	assert.Equal(t, int64(35), st.LastKey)
}

type memCheckpoints map[string]models.Checkpoint

func (m memCheckpoints) SaveCheckpoint(_ context.Context, cp models.Checkpoint) error {
	m[cp.RunID] = cp
	return nil
}

func (m memCheckpoints) LoadCheckpoint(_ context.Context, runID string) (models.Checkpoint, error) {
	cp, ok := m[runID]
	if !ok {
		return models.Checkpoint{}, apperr.ErrNotFound
	}
	return cp, nil
}

func TestResumeKeepsKeysetCursor(t *testing.T) {
	ctx := context.Background()
	store := seeded(t, 250)
	cps := memCheckpoints{}
	p := recommit.New(store, discard(), recommit.WithCheckpoints(cps))

	base := store.FindCalls()
	store.FindHook = func(call int, _ models.Query, _ models.Window) error {
		if call-base == 3 {
			return fmt.Errorf("docstore: find: %w", apperr.ErrStoreConnectivity)
		}
		return nil
	}
	_, err := p.Run(ctx, models.Query{}, 100, stamp, recommit.WithRunID("by-key"), recommit.WithKeyset(0))
	require.ErrorIs(t, err, apperr.ErrStoreConnectivity)

	cp := cps["by-key"]
	assert.True(t, cp.Keyset)
	assert.Equal(t, int64(200), cp.LastKey)

	var afterKeys []int64
	store.FindHook = func(_ int, q models.Query, w models.Window) error {
		assert.Zero(t, w.Skip)
		afterKeys = append(afterKeys, q.AfterKey)
		return nil
	}
	resumed, err := p.Resume(ctx, "by-key", 100, stamp)
	require.NoError(t, err)
	assert.Equal(t, 250, resumed.Processed)
	assert.Equal(t, []int64{200, 250}, afterKeys)
	assert.True(t, cps["by-key"].Keyset)
}

func TestCheckpointsAndResume(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	testutil.Seed(t, db, 250, func(i int) map[string]any {
		return map[string]any{"3": map[string]any{"7": i}}
	})
	p := recommit.New(db, discard(), recommit.WithCheckpoints(db))

	st, err := p.Run(ctx, models.Query{}, 100, stamp, recommit.WithRunID("nightly"))
	require.NoError(t, err)
	assert.Equal(t, 250, st.Processed)

	cp, err := db.LoadCheckpoint(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, 300, cp.Skip)
	assert.Equal(t, 250, cp.Processed)

	resumed, err := p.Resume(ctx, "nightly", 100, stamp)
	require.NoError(t, err)
	assert.Equal(t, 250, resumed.Processed)
	assert.Zero(t, resumed.Batches)

	_, err = p.Resume(ctx, "missing", 100, stamp)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

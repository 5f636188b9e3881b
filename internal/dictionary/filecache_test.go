package dictionary

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/storage"
)

func testCache(t *testing.T) (*FileCache, string) {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewFS(dir)
	require.NoError(t, err)
	return NewFileCache(files, "dictionary.yaml"), dir
}

func TestFileCache_MissingIsEmpty(t *testing.T) {
	c, _ := testCache(t)
	defs, err := c.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestFileCache_RoundTrip(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()
	in := []models.TagDefinition{
		{Serial: 3, Identifier: models.Identifier{"geo", "city"}},
		{Serial: 7, Identifier: models.Identifier{"name"}, OffsetPaths: models.NewPathSet("5.7", "3.7"), UnitCount: 40},
	}
	require.NoError(t, c.WriteBack(ctx, in))

	out, err := c.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "geo:city", out[0].Identifier.String())
	assert.Equal(t, []string{"3.7", "5.7"}, out[1].OffsetPaths.Sorted())
	assert.Equal(t, 40, out[1].UnitCount)
}

func TestFileCache_RejectsForeignOffset(t *testing.T) {
	c, dir := testCache(t)
	body := "tags:\n  - serial: 7\n    identifier: name\n    offset_paths: [\"3.9\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dictionary.yaml"), []byte(body), 0o644))

	_, err := c.LoadAll(context.Background())
	assert.Error(t, err)
}

func TestFileCache_RejectsDuplicateSerial(t *testing.T) {
	c, dir := testCache(t)
	body := "tags:\n  - serial: 7\n    identifier: a\n  - serial: 7\n    identifier: b\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dictionary.yaml"), []byte(body), 0o644))

	_, err := c.LoadAll(context.Background())
	assert.Error(t, err)
}

func startWatcher(t *testing.T, c *FileCache, d *Dictionary) <-chan int {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reloaded := make(chan int, 4)
	go func() {
		_ = WatchCache(ctx, c, d, logger, func(n int) { reloaded <- n })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	return reloaded
}

func TestWatchCache_ReloadsOnWrite(t *testing.T) {
	c, dir := testCache(t)
	d := New(c)
	reloaded := startWatcher(t, c, d)

	body := "tags:\n  - serial: 5\n    identifier: color\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dictionary.yaml"), []byte(body), 0o644))

	select {
	case n := <-reloaded:
		assert.Equal(t, 1, n)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reload")
	}

	def, err := d.Resolve("color")
	require.NoError(t, err)
	assert.Equal(t, models.Serial(5), def.Serial)
}

func TestWatchCache_PersistKeepsCounters(t *testing.T) {
	c, dir := testCache(t)
	ctx := context.Background()
	require.NoError(t, c.WriteBack(ctx, []models.TagDefinition{
		{Serial: 3, Identifier: models.Identifier{"geo", "city"}},
		{Serial: 7, Identifier: models.Identifier{"geo", "city", "name"}},
	}))
	d := New(c)
	require.NoError(t, d.Load(ctx))

	for key := uint32(1); key <= 10; key++ {
		require.NoError(t, d.RecordDocument(key, []string{"3.7"}))
	}
	reloaded := startWatcher(t, c, d)

	require.NoError(t, d.Persist(ctx))

	select {
	case n := <-reloaded:
		t.Fatalf("own snapshot reloaded (%d tags)", n)
	case <-time.After(4 * reloadDebounce):
	}
	assert.Equal(t, 10, d.OffsetCounts()["3.7"])
	def, err := d.Definition(7)
	require.NoError(t, err)
	assert.Equal(t, 10, def.UnitCount)

	// Someone else rewrites the file: the reload goes through, and tag 7,
	// whose definition changed, loses its stale counters.
	body := "tags:\n  - serial: 3\n    identifier: geo:city\n  - serial: 7\n    identifier: geo:city:label\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dictionary.yaml"), []byte(body), 0o644))

	select {
	case n := <-reloaded:
		assert.Equal(t, 2, n)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	_, err = d.Resolve("geo:city:label")
	require.NoError(t, err)
	assert.Zero(t, d.OffsetCounts()["3.7"])
}

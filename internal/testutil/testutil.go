// Package testutil provides shared test helpers: temporary SQLite stores,
// seeded collections and an in-memory collection with fault injection.
package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/starford/tagdex/internal/dictionary"
	"github.com/starford/tagdex/internal/docstore"
	"github.com/starford/tagdex/internal/models"
)

// TestDB creates a temporary SQLite document store that is automatically cleaned up.
func TestDB(t *testing.T) *docstore.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "tagdex-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := docstore.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// DocID is the identity Seed gives the i-th document.
func DocID(i int) string { return fmt.Sprintf("doc-%05d", i) }

// Upserter is the write side Seed needs.
type Upserter interface {
	Upsert(ctx context.Context, doc models.Document) error
}

// Seed writes n documents with bodies produced by body.
func Seed(t *testing.T, store Upserter, n int, body func(i int) map[string]any) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		if err := store.Upsert(ctx, models.Document{ID: DocID(i), Body: body(i)}); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
}

// GeoTags is a small catalog used across package tests: tag 7 ("geo:name")
// lives under both tag 3 ("geo:city") and tag 5 ("geo:country").
func GeoTags() []models.TagDefinition {
	return []models.TagDefinition{
		{Serial: 3, Identifier: models.Identifier{"geo", "city"}},
		{Serial: 5, Identifier: models.Identifier{"geo", "country"}},
		{Serial: 7, Identifier: models.Identifier{"geo", "name"}},
		{Serial: 9, Identifier: models.Identifier{"geo", "population"}},
	}
}

// TestDictionary returns a dictionary persisted in db and loaded with defs.
func TestDictionary(t *testing.T, db *docstore.DB, defs []models.TagDefinition) *dictionary.Dictionary {
	t.Helper()
	ctx := context.Background()
	if err := db.WriteBack(ctx, defs); err != nil {
		t.Fatal(err)
	}
	dict := dictionary.New(db)
	if err := dict.Load(ctx); err != nil {
		t.Fatal(err)
	}
	return dict
}

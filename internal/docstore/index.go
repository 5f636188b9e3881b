package docstore

import (
	"context"

	"github.com/starford/tagdex/internal/models"
)

// Collection is the document store contract the walker, the usage scan, the
// planner and the recommit pipeline are written against. Consumers depend on
// the narrow slices they need rather than on *DB.
type Collection interface {
	Find(ctx context.Context, q models.Query, s models.Sort, w models.Window) ([]models.Document, error)
	Get(ctx context.Context, id string) (models.Document, error)
	Upsert(ctx context.Context, doc models.Document) error
	Delete(ctx context.Context, id string) error
	CountPopulated(ctx context.Context, q models.Query) (int, error)
	CreateIndex(ctx context.Context, spec models.IndexSpec) error
	DropIndex(ctx context.Context, name string) error
	ListIndexes(ctx context.Context) ([]models.IndexSpec, error)
	LoadAll(ctx context.Context) ([]models.TagDefinition, error)
	WriteBack(ctx context.Context, defs []models.TagDefinition) error
	SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error
	LoadCheckpoint(ctx context.Context, runID string) (models.Checkpoint, error)
	Close() error
}

// Verify *DB satisfies Collection at compile time.
var _ Collection = (*DB)(nil)

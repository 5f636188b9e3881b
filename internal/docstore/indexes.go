package docstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/offsetpath"
)

var indexNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// CreateIndex builds an expression index over spec.OffsetPath. Sparse indexes
// are partial indexes that skip documents lacking the field. SQLite builds
// indexes synchronously, so spec.Background has no effect here. Creating an
// index that already exists is a no-op.
func (db *DB) CreateIndex(ctx context.Context, spec models.IndexSpec) error {
	if !indexNameRe.MatchString(spec.Name) {
		return fmt.Errorf("docstore: create index: %w: name %q", apperr.ErrInvalidArgument, spec.Name)
	}
	p, err := offsetpath.Parse(spec.OffsetPath)
	if err != nil {
		return fmt.Errorf("docstore: create index: %w", err)
	}
	expr := fmt.Sprintf("json_extract(body, '%s')", p.JSONPath())
	stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s" ON documents(%s)`, spec.Name, expr)
	if spec.Sparse {
		stmt += " WHERE " + expr + " IS NOT NULL"
	}
	_, err = db.conn.ExecContext(ctx, stmt)
	return wrapErr("create index "+spec.Name, err)
}

// DropIndex removes the named index if it exists.
func (db *DB) DropIndex(ctx context.Context, name string) error {
	if !indexNameRe.MatchString(name) {
		return fmt.Errorf("docstore: drop index: %w: name %q", apperr.ErrInvalidArgument, name)
	}
	_, err := db.conn.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS "%s"`, name))
	return wrapErr("drop index "+name, err)
}

// ListIndexes returns the explicit indexes on the documents table, ordered by
// name. OffsetPath is left empty: mapping names back to offsets is the
// planner's concern.
func (db *DB) ListIndexes(ctx context.Context) ([]models.IndexSpec, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT name, sql FROM sqlite_master
		WHERE type = 'index' AND tbl_name = 'documents' AND sql IS NOT NULL
		ORDER BY name
	`)
	if err != nil {
		return nil, wrapErr("list indexes", err)
	}
	defer rows.Close()

	var out []models.IndexSpec
	for rows.Next() {
		var name, ddl string
		if err := rows.Scan(&name, &ddl); err != nil {
			return nil, wrapErr("list indexes", err)
		}
		out = append(out, models.IndexSpec{
			Name:   name,
			Sparse: strings.Contains(strings.ToUpper(ddl), " WHERE "),
		})
	}
	return out, wrapErr("list indexes", rows.Err())
}

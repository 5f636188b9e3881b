package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/starford/tagdex/internal/models"
)

// LoadAll returns every persisted tag definition ordered by serial.
func (db *DB) LoadAll(ctx context.Context) ([]models.TagDefinition, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT serial, identifier, offset_paths, unit_count FROM tags ORDER BY serial`)
	if err != nil {
		return nil, wrapErr("load tags", err)
	}
	defer rows.Close()

	var out []models.TagDefinition
	for rows.Next() {
		var (
			serial     int64
			identifier string
			pathsJSON  string
			unitCount  int
		)
		if err := rows.Scan(&serial, &identifier, &pathsJSON, &unitCount); err != nil {
			return nil, wrapErr("load tags", err)
		}
		var paths []string
		if err := json.Unmarshal([]byte(pathsJSON), &paths); err != nil {
			return nil, fmt.Errorf("docstore: decode offsets of tag %d: %w", serial, err)
		}
		out = append(out, models.TagDefinition{
			Serial:      models.Serial(serial),
			Identifier:  models.ParseIdentifier(identifier),
			OffsetPaths: models.NewPathSet(paths...),
			UnitCount:   unitCount,
		})
	}
	return out, wrapErr("load tags", rows.Err())
}

// WriteBack upserts defs in a single transaction. Tags absent from defs are
// left untouched.
func (db *DB) WriteBack(ctx context.Context, defs []models.TagDefinition) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tags (serial, identifier, offset_paths, unit_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET
			identifier   = excluded.identifier,
			offset_paths = excluded.offset_paths,
			unit_count   = excluded.unit_count
	`)
	if err != nil {
		return wrapErr("prepare tag upsert", err)
	}
	defer stmt.Close()

	for _, d := range defs {
		paths := d.OffsetPaths.Sorted()
		pathsJSON, _ := json.Marshal(paths)
		if _, err := stmt.ExecContext(ctx, int64(d.Serial), d.Identifier.String(), string(pathsJSON), d.UnitCount); err != nil {
			return wrapErr(fmt.Sprintf("write tag %s", d.Serial), err)
		}
	}
	return wrapErr("commit tags", tx.Commit())
}

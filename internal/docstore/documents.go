package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/checksum"
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/offsetpath"
)

var sortColumns = map[string]string{
	models.SortByKey: "seq",
	models.SortByID:  "id",
}

// populatedExpr renders the non-null test for one offset. The JSON path is
// inlined so the expression matches the one used by sparse indexes and the
// query planner can pick them up.
func populatedExpr(path string) (string, error) {
	p, err := offsetpath.Parse(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("json_extract(body, '%s') IS NOT NULL", p.JSONPath()), nil
}

// whereClause renders q as a WHERE clause (with leading space) and its args.
func whereClause(q models.Query) (string, []any, error) {
	var conds []string
	var args []any
	for _, path := range q.Populated {
		expr, err := populatedExpr(path)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, expr)
	}
	if q.IDFrom != "" {
		conds = append(conds, "id >= ?")
		args = append(args, q.IDFrom)
	}
	if q.IDTo != "" {
		conds = append(conds, "id < ?")
		args = append(args, q.IDTo)
	}
	if q.AfterKey > 0 {
		conds = append(conds, "seq > ?")
		args = append(args, q.AfterKey)
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// Find returns the documents matching q within window w, ordered by s.
func (db *DB) Find(ctx context.Context, q models.Query, s models.Sort, w models.Window) ([]models.Document, error) {
	col, ok := sortColumns[s.Field]
	if !ok {
		return nil, fmt.Errorf("docstore: find: %w: %q", apperr.ErrUnstableSort, s.Field)
	}
	if w.Limit <= 0 || w.Skip < 0 {
		return nil, fmt.Errorf("docstore: find: %w: window %+v", apperr.ErrInvalidArgument, w)
	}
	where, args, err := whereClause(q)
	if err != nil {
		return nil, fmt.Errorf("docstore: find: %w", err)
	}
	dir := "ASC"
	if s.Desc {
		dir = "DESC"
	}

	query := "SELECT seq, id, body FROM documents" + where +
		" ORDER BY " + col + " " + dir + " LIMIT ? OFFSET ?"
	args = append(args, w.Limit, w.Skip)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("find", err)
	}
	defer rows.Close()

	out := make([]models.Document, 0, w.Limit)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("find", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (models.Document, error) {
	var doc models.Document
	var body string
	if err := r.Scan(&doc.Key, &doc.ID, &body); err != nil {
		return models.Document{}, wrapErr("scan document", err)
	}
	if err := json.Unmarshal([]byte(body), &doc.Body); err != nil {
		return models.Document{}, fmt.Errorf("docstore: decode %s: %w", doc.ID, err)
	}
	if doc.Body == nil {
		doc.Body = map[string]any{}
	}
	return doc, nil
}

// Get returns the document with identity id.
func (db *DB) Get(ctx context.Context, id string) (models.Document, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT seq, id, body FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, fmt.Errorf("docstore: get %s: %w", id, apperr.ErrNotFound)
	}
	return doc, err
}

// Upsert writes doc keyed by its identity. An existing document keeps its
// key, so ordered scans are not disturbed by write-back.
func (db *DB) Upsert(ctx context.Context, doc models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("docstore: upsert: %w: empty id", apperr.ErrInvalidArgument)
	}
	if doc.Body == nil {
		doc.Body = map[string]any{}
	}
	body, err := json.Marshal(doc.Body)
	if err != nil {
		return fmt.Errorf("docstore: encode %s: %w", doc.ID, err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO documents (id, body, checksum, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body       = excluded.body,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, doc.ID, string(body), checksum.Sum(body), time.Now().UTC())
	return wrapErr("upsert", err)
}

// Delete removes the document with identity id. Missing documents are not an
// error.
func (db *DB) Delete(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return wrapErr("delete", err)
}

// Checksum returns the stored body checksum of id, or empty string if absent.
func (db *DB) Checksum(ctx context.Context, id string) (string, error) {
	var cs string
	err := db.conn.QueryRowContext(ctx, `SELECT checksum FROM documents WHERE id = ?`, id).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrapErr("checksum", err)
	}
	return cs, nil
}

// CountPopulated counts documents matching q.
func (db *DB) CountPopulated(ctx context.Context, q models.Query) (int, error) {
	where, args, err := whereClause(q)
	if err != nil {
		return 0, fmt.Errorf("docstore: count: %w", err)
	}
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT count(*) FROM documents"+where, args...).Scan(&n); err != nil {
		return 0, wrapErr("count", err)
	}
	return n, nil
}

package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/models"
)

// SaveCheckpoint records the progress of a recommit run.
func (db *DB) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	if cp.RunID == "" {
		return fmt.Errorf("docstore: save checkpoint: %w: empty run id", apperr.ErrInvalidArgument)
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	queryJSON, err := json.Marshal(cp.Query)
	if err != nil {
		return fmt.Errorf("docstore: encode checkpoint query: %w", err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO recommit_checkpoints (run_id, query, skip, last_key, keyset, processed, failed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			query      = excluded.query,
			skip       = excluded.skip,
			last_key   = excluded.last_key,
			keyset     = excluded.keyset,
			processed  = excluded.processed,
			failed     = excluded.failed,
			updated_at = excluded.updated_at
	`, cp.RunID, string(queryJSON), cp.Skip, cp.LastKey, cp.Keyset, cp.Processed, cp.Failed, cp.UpdatedAt)
	return wrapErr("save checkpoint", err)
}

// LoadCheckpoint returns the last saved progress of runID.
func (db *DB) LoadCheckpoint(ctx context.Context, runID string) (models.Checkpoint, error) {
	var (
		cp        models.Checkpoint
		queryJSON string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT run_id, query, skip, last_key, keyset, processed, failed, updated_at
		FROM recommit_checkpoints WHERE run_id = ?
	`, runID).Scan(&cp.RunID, &queryJSON, &cp.Skip, &cp.LastKey, &cp.Keyset, &cp.Processed, &cp.Failed, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Checkpoint{}, fmt.Errorf("docstore: checkpoint %s: %w", runID, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Checkpoint{}, wrapErr("load checkpoint", err)
	}
	if err := json.Unmarshal([]byte(queryJSON), &cp.Query); err != nil {
		return models.Checkpoint{}, fmt.Errorf("docstore: decode checkpoint query: %w", err)
	}
	return cp, nil
}

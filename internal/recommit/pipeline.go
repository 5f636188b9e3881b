// Package recommit re-applies a recompute function to every document matched
// by a query and writes the results back, one bounded window at a time.
package recommit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/checksum"
	"github.com/starford/tagdex/internal/metrics"
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/walker"
)

// maxFailedIDs bounds Stats.FailedIDs; Failed keeps counting past it.
const maxFailedIDs = 1000

// Store is the collection a run reads from and writes to.
type Store interface {
	walker.Finder
	Upsert(ctx context.Context, doc models.Document) error
}

// CheckpointStore persists run progress.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error
	LoadCheckpoint(ctx context.Context, runID string) (models.Checkpoint, error)
}

// RecomputeFunc derives the new version of a document. It must keep doc.ID.
type RecomputeFunc func(ctx context.Context, doc models.Document) (models.Document, error)

// Progress is published after every completed window.
type Progress struct {
	RunID     string `json:"run_id"`
	Batch     int    `json:"batch"`
	Skip      int    `json:"skip"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Unchanged int    `json:"unchanged"`
}

// Stats summarises a run. Processed counts documents recomputed without
// error, including those whose content did not change.
type Stats struct {
	RunID     string   `json:"run_id"`
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Unchanged int      `json:"unchanged"`
	Batches   int      `json:"batches"`
	FailedIDs []string `json:"failed_ids,omitempty"`
	// LastSkip and LastKey are the resume point after the last completed window.
	LastSkip int   `json:"last_skip"`
	LastKey  int64 `json:"last_key"`
}

// RunError reports a run that stopped early. Skip and LastKey mark the last
// fully completed window, so a new run started there neither skips nor
// repeats documents.
type RunError struct {
	RunID   string
	Skip    int
	LastKey int64
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("recommit: run %s stopped at skip %d: %v", e.RunID, e.Skip, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Pipeline runs recommits against one store.
type Pipeline struct {
	store       Store
	logger      *slog.Logger
	checkpoints CheckpointStore
	progress    func(Progress)
	metrics     *metrics.Recommit
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCheckpoints saves a checkpoint after every window.
func WithCheckpoints(cs CheckpointStore) Option {
	return func(p *Pipeline) { p.checkpoints = cs }
}

// WithProgress registers a callback invoked after every window. Partitioned
// runs call it from several goroutines.
func WithProgress(fn func(Progress)) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithMetrics attaches recommit instruments.
func WithMetrics(m *metrics.Recommit) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a pipeline.
func New(store Store, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{store: store, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type runConfig struct {
	runID     string
	skip      int
	keyset    bool
	lastKey   int64
	processed int
	failed    int
}

// RunOption configures a single run.
type RunOption func(*runConfig)

// WithRunID names the run. Checkpoints are stored under this id.
func WithRunID(id string) RunOption {
	return func(c *runConfig) { c.runID = id }
}

// WithStartSkip starts the walk at skip, typically a previous RunError.Skip.
func WithStartSkip(skip int) RunOption {
	return func(c *runConfig) { c.skip = skip }
}

// WithKeyset walks with a key cursor starting after lastKey.
func WithKeyset(lastKey int64) RunOption {
	return func(c *runConfig) {
		c.keyset = true
		c.lastKey = lastKey
	}
}

// WithResume continues from a saved checkpoint: same run id, start skip,
// cursor mode and cumulative counts.
func WithResume(cp models.Checkpoint) RunOption {
	return func(c *runConfig) {
		c.runID = cp.RunID
		c.skip = cp.Skip
		c.keyset = cp.Keyset
		c.lastKey = cp.LastKey
		c.processed = cp.Processed
		c.failed = cp.Failed
	}
}

func newRunConfig(opts []RunOption) runConfig {
	var c runConfig
	for _, opt := range opts {
		opt(&c)
	}
	if c.runID == "" {
		c.runID = uuid.NewString()
	}
	return c
}

// Run recomputes every document matching q in key order, windowSize documents
// at a time. Recompute failures, panics included, are recorded and the run
// continues. Connectivity failures and cancellation stop the run with a
// *RunError; cancellation is only observed between windows, so a started
// window always finishes.
func (p *Pipeline) Run(ctx context.Context, q models.Query, windowSize int, fn RecomputeFunc, opts ...RunOption) (Stats, error) {
	cfg := newRunConfig(opts)
	st := Stats{RunID: cfg.runID, Processed: cfg.processed, Failed: cfg.failed, LastSkip: cfg.skip, LastKey: cfg.lastKey}

	var wopts []walker.Option
	if cfg.keyset {
		wopts = append(wopts, walker.WithKeyset(cfg.lastKey))
	}
	w, err := walker.New(p.store, q, models.Sort{Field: models.SortByKey}, models.Window{Skip: cfg.skip, Limit: windowSize}, wopts...)
	if err != nil {
		return st, fmt.Errorf("recommit: run: %w", err)
	}

	log := p.logger.With(slog.String("run_id", cfg.runID))
	log.Info("recommit: start", slog.Int("skip", cfg.skip), slog.Int("window", windowSize))

	writeCtx := context.WithoutCancel(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return st, p.abort(log, &st, err)
		}
		start := time.Now()
		batch, err := w.Next(ctx)
		if err != nil {
			return st, p.abort(log, &st, err)
		}
		if len(batch.Docs) == 0 {
			break
		}

		for _, doc := range batch.Docs {
			if err := p.apply(writeCtx, log, fn, doc, &st); err != nil {
				return st, p.abort(log, &st, err)
			}
		}

		st.Batches++
		st.LastSkip = w.CurrentSkip()
		st.LastKey = w.LastKey()
		p.metrics.Batch(time.Since(start))

		if err := p.saveCheckpoint(writeCtx, q, cfg.keyset, &st); err != nil {
			if apperr.IsFatal(err) {
				return st, p.abort(log, &st, err)
			}
			log.Warn("recommit: checkpoint failed", slog.String("error", err.Error()))
		}
		if p.progress != nil {
			p.progress(Progress{
				RunID:     st.RunID,
				Batch:     st.Batches,
				Skip:      batch.Window.Skip,
				Processed: st.Processed,
				Failed:    st.Failed,
				Unchanged: st.Unchanged,
			})
		}
	}

	log.Info("recommit: done",
		slog.Int("processed", st.Processed),
		slog.Int("failed", st.Failed),
		slog.Int("unchanged", st.Unchanged),
	)
	return st, nil
}

func (p *Pipeline) abort(log *slog.Logger, st *Stats, err error) error {
	p.metrics.Abort()
	log.Error("recommit: aborted",
		slog.Int("skip", st.LastSkip),
		slog.Int("processed", st.Processed),
		slog.String("error", err.Error()),
	)
	return &RunError{RunID: st.RunID, Skip: st.LastSkip, LastKey: st.LastKey, Err: err}
}

// apply handles one document. Only fatal errors are returned.
func (p *Pipeline) apply(ctx context.Context, log *slog.Logger, fn RecomputeFunc, doc models.Document, st *Stats) error {
	before, err := checksum.OfJSON(doc.Body)
	if err != nil {
		p.fail(log, st, doc.ID, fmt.Errorf("%w: checksum: %w", apperr.ErrRecomputeFailure, err))
		return nil
	}
	out, err := recompute(ctx, fn, doc)
	if err != nil {
		p.fail(log, st, doc.ID, err)
		return nil
	}
	after, err := checksum.OfJSON(out.Body)
	if err != nil {
		p.fail(log, st, doc.ID, fmt.Errorf("%w: checksum: %w", apperr.ErrRecomputeFailure, err))
		return nil
	}
	if before == after {
		st.Processed++
		st.Unchanged++
		p.metrics.Document(metrics.ResultUnchanged)
		return nil
	}
	if err := p.store.Upsert(ctx, out); err != nil {
		if apperr.IsFatal(err) {
			return err
		}
		p.fail(log, st, doc.ID, err)
		return nil
	}
	st.Processed++
	p.metrics.Document(metrics.ResultWritten)
	return nil
}

func (p *Pipeline) fail(log *slog.Logger, st *Stats, id string, err error) {
	st.Failed++
	if len(st.FailedIDs) < maxFailedIDs {
		st.FailedIDs = append(st.FailedIDs, id)
	}
	p.metrics.Document(metrics.ResultFailed)
	log.Warn("recommit: document failed", slog.String("id", id), slog.String("error", err.Error()))
}

// recompute calls fn and turns errors, panics and identity changes into
// apperr.ErrRecomputeFailure.
func recompute(ctx context.Context, fn RecomputeFunc, doc models.Document) (out models.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", apperr.ErrRecomputeFailure, r)
		}
	}()
	id, key := doc.ID, doc.Key
	out, err = fn(ctx, doc)
	if err != nil {
		if errors.Is(err, apperr.ErrRecomputeFailure) {
			return out, err
		}
		return out, fmt.Errorf("%w: %w", apperr.ErrRecomputeFailure, err)
	}
	if out.ID != id {
		return out, fmt.Errorf("%w: id changed from %q to %q", apperr.ErrRecomputeFailure, id, out.ID)
	}
	out.Key = key
	return out, nil
}

func (p *Pipeline) saveCheckpoint(ctx context.Context, q models.Query, keyset bool, st *Stats) error {
	if p.checkpoints == nil {
		return nil
	}
	return p.checkpoints.SaveCheckpoint(ctx, models.Checkpoint{
		RunID:     st.RunID,
		Query:     q,
		Skip:      st.LastSkip,
		LastKey:   st.LastKey,
		Keyset:    keyset,
		Processed: st.Processed,
		Failed:    st.Failed,
		UpdatedAt: time.Now().UTC(),
	})
}

// Resume loads the checkpoint of runID and continues that run with its
// original query.
func (p *Pipeline) Resume(ctx context.Context, runID string, windowSize int, fn RecomputeFunc, opts ...RunOption) (Stats, error) {
	if p.checkpoints == nil {
		return Stats{}, fmt.Errorf("recommit: resume: %w: no checkpoint store", apperr.ErrInvalidArgument)
	}
	cp, err := p.checkpoints.LoadCheckpoint(ctx, runID)
	if err != nil {
		return Stats{}, fmt.Errorf("recommit: resume: %w", err)
	}
	return p.Run(ctx, cp.Query, windowSize, fn, append([]RunOption{WithResume(cp)}, opts...)...)
}

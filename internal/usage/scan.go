// Package usage recomputes the dictionary's usage counters with a full,
// windowed pass over the collection.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/dictionary"
	"github.com/starford/tagdex/internal/metrics"
	"github.com/starford/tagdex/internal/models"
	"github.com/starford/tagdex/internal/offsetpath"
	"github.com/starford/tagdex/internal/walker"
)

const defaultWindowSize = 500

// Progress is published after every scanned window.
type Progress struct {
	Batch        int `json:"batch"`
	Skip         int `json:"skip"`
	Documents    int `json:"documents"`
	UnknownPaths int `json:"unknown_paths"`
}

// Report summarises a finished scan.
type Report struct {
	Documents    int                   `json:"documents"`
	Batches      int                   `json:"batches"`
	UnknownPaths int                   `json:"unknown_paths"`
	Counters     map[models.Serial]int `json:"counters"`
	Duration     time.Duration         `json:"duration"`
}

// Scanner drives the recount.
type Scanner struct {
	store      walker.Finder
	dict       *dictionary.Dictionary
	logger     *slog.Logger
	windowSize int
	progress   func(Progress)
	metrics    *metrics.Scan
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithWindowSize sets the number of documents fetched per window.
func WithWindowSize(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.windowSize = n
		}
	}
}

// WithProgress registers a callback invoked after every window.
func WithProgress(fn func(Progress)) Option {
	return func(s *Scanner) { s.progress = fn }
}

// WithMetrics attaches scan instruments.
func WithMetrics(m *metrics.Scan) Option {
	return func(s *Scanner) { s.metrics = m }
}

// New creates a scanner over store that updates dict.
func New(store walker.Finder, dict *dictionary.Dictionary, logger *slog.Logger, opts ...Option) *Scanner {
	s := &Scanner{
		store:      store,
		dict:       dict,
		logger:     logger,
		windowSize: defaultWindowSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan recounts the whole collection in key order into a staging tally and
// swaps it into the dictionary only after every window was read. Paths naming
// tags the dictionary does not know are logged and counted, never created. A
// failed or cancelled scan leaves the previous counters in place, in memory
// and on disk.
func (s *Scanner) Scan(ctx context.Context) (Report, error) {
	start := time.Now()
	w, err := walker.New(s.store, models.Query{}, models.Sort{Field: models.SortByKey}, models.Window{Limit: s.windowSize})
	if err != nil {
		return Report{}, fmt.Errorf("usage: scan: %w", err)
	}

	tally := s.dict.NewTally()
	var rep Report
	for batch, err := range w.All(ctx) {
		if err != nil {
			return rep, fmt.Errorf("usage: scan: %w", err)
		}
		unknown, err := s.recordBatch(tally, batch.Docs)
		if err != nil {
			return rep, err
		}
		rep.Batches++
		rep.Documents += len(batch.Docs)
		rep.UnknownPaths += unknown
		s.metrics.Documents(len(batch.Docs))
		s.metrics.UnknownPaths(unknown)

		s.logger.Debug("scan: window done",
			slog.Int("skip", batch.Window.Skip),
			slog.Int("documents", len(batch.Docs)),
		)
		if s.progress != nil {
			s.progress(Progress{
				Batch:        rep.Batches,
				Skip:         batch.Window.Skip,
				Documents:    rep.Documents,
				UnknownPaths: rep.UnknownPaths,
			})
		}
		if err := ctx.Err(); err != nil {
			return rep, fmt.Errorf("usage: scan: %w", err)
		}
	}

	s.dict.Commit(tally)
	if err := s.dict.Persist(ctx); err != nil {
		return rep, fmt.Errorf("usage: scan: %w", err)
	}
	rep.Counters = s.dict.SnapshotCounters()
	for serial, units := range rep.Counters {
		s.metrics.TagUnits(serial.String(), units)
	}
	rep.Duration = time.Since(start)

	s.logger.Info("scan: done",
		slog.Int("documents", rep.Documents),
		slog.Int("batches", rep.Batches),
		slog.Int("unknown_paths", rep.UnknownPaths),
		slog.Duration("duration", rep.Duration),
	)
	return rep, nil
}

func (s *Scanner) recordBatch(tally *dictionary.Tally, docs []models.Document) (int, error) {
	unknown := 0
	for _, doc := range docs {
		if doc.Key <= 0 || doc.Key > math.MaxUint32 {
			return unknown, fmt.Errorf("usage: scan: %w: document %q key %d out of range", apperr.ErrInvalidArgument, doc.ID, doc.Key)
		}
		err := tally.RecordDocument(uint32(doc.Key), offsetpath.Populated(doc.Body))
		if err == nil {
			continue
		}
		n := countErrors(err)
		unknown += n
		s.logger.Warn("scan: skipped paths",
			slog.String("id", doc.ID),
			slog.Int("paths", n),
			slog.String("error", err.Error()),
		)
	}
	return unknown, nil
}

func countErrors(err error) int {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return len(joined.Unwrap())
	}
	return 1
}

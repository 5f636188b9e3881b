// Package walker pages through a document collection in bounded, ordered
// windows. A walker holds only the next window and the query; callers keep
// durable progress themselves using CurrentSkip or LastKey.
package walker

import (
	"context"
	"fmt"
	"iter"

	"github.com/starford/tagdex/internal/apperr"
	"github.com/starford/tagdex/internal/models"
)

// Finder fetches one window of documents.
type Finder interface {
	Find(ctx context.Context, q models.Query, s models.Sort, w models.Window) ([]models.Document, error)
}

// State is the position of a walker in its lifecycle.
type State int

const (
	Idle State = iota
	Fetching
	HasResults
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case HasResults:
		return "has_results"
	case Exhausted:
		return "exhausted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Batch is one fetched window.
type Batch struct {
	Window models.Window
	Docs   []models.Document
}

// Walker is a lazy, finite, non-restartable sequence of batches.
type Walker struct {
	finder Finder
	query  models.Query
	sort   models.Sort
	window models.Window

	keyset  bool
	lastKey int64
	state   State
}

// Option configures a Walker.
type Option func(*Walker)

// WithKeyset switches the walker from numeric skip to a "key greater than last
// seen" cursor starting after lastKey. Inserts and deletes behind the cursor
// can then no longer shift the remaining windows. Requires an ascending sort
// on the document key.
func WithKeyset(lastKey int64) Option {
	return func(w *Walker) {
		w.keyset = true
		w.lastKey = lastKey
	}
}

// New validates the preconditions of a walk. Pagination over an unordered
// result set is undefined, so a sort that is not total is rejected.
func New(f Finder, q models.Query, s models.Sort, window models.Window, opts ...Option) (*Walker, error) {
	if !s.Stable() {
		return nil, fmt.Errorf("walker: %w: sort field %q", apperr.ErrUnstableSort, s.Field)
	}
	if window.Limit <= 0 || window.Skip < 0 {
		return nil, fmt.Errorf("walker: %w: window %+v", apperr.ErrInvalidArgument, window)
	}
	w := &Walker{finder: f, query: q, sort: s, window: window}
	for _, opt := range opts {
		opt(w)
	}
	if w.keyset && (s.Field != models.SortByKey || s.Desc) {
		return nil, fmt.Errorf("walker: %w: keyset cursor needs ascending %q sort", apperr.ErrUnstableSort, models.SortByKey)
	}
	return w, nil
}

// State returns the current lifecycle state.
func (w *Walker) State() State { return w.state }

// CurrentSkip returns the skip of the next window. After a batch has been
// fully processed it is the safe resume point.
func (w *Walker) CurrentSkip() int { return w.window.Skip }

// LastKey returns the key of the last document handed out.
func (w *Walker) LastKey() int64 { return w.lastKey }

// Limit returns the window size.
func (w *Walker) Limit() int { return w.window.Limit }

// Next fetches the next window. The terminal batch is empty and is returned
// exactly once; later calls fail with apperr.ErrExhausted. A failed fetch
// leaves the window unchanged so the same walker, or a new one built at
// CurrentSkip, can retry it.
func (w *Walker) Next(ctx context.Context) (Batch, error) {
	if w.state == Exhausted {
		return Batch{}, apperr.ErrExhausted
	}

	prev := w.state
	w.state = Fetching

	q := w.query
	win := w.window
	if w.keyset {
		q.AfterKey = w.lastKey
		win.Skip = 0
	}

	docs, err := w.finder.Find(ctx, q, w.sort, win)
	if err != nil {
		w.state = prev
		return Batch{}, fmt.Errorf("walker: fetch skip=%d: %w", w.window.Skip, err)
	}

	batch := Batch{Window: w.window, Docs: docs}
	if len(docs) == 0 {
		w.state = Exhausted
		return batch, nil
	}

	w.state = HasResults
	w.window.Skip += w.window.Limit
	w.lastKey = docs[len(docs)-1].Key
	return batch, nil
}

// All yields every non-empty batch in order. Breaking out of the loop stops
// the walk between batches; an error is yielded once and ends the sequence.
func (w *Walker) All(ctx context.Context) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		for {
			batch, err := w.Next(ctx)
			if err != nil {
				yield(Batch{}, err)
				return
			}
			if len(batch.Docs) == 0 {
				return
			}
			if !yield(batch, nil) {
				return
			}
		}
	}
}

// Package apperr defines the error kinds shared across tagdex packages.
// Callers match them with errors.Is; lower layers wrap them with context.
package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnknownTag        = errors.New("unknown tag")
	ErrMalformedPath     = errors.New("malformed offset path")
	ErrUnstableSort      = errors.New("unstable sort")
	ErrStoreConnectivity = errors.New("store connectivity")
	ErrRecomputeFailure  = errors.New("recompute failure")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrExhausted         = errors.New("walk exhausted")
	ErrConflict          = errors.New("conflict")
)

// IsFatal reports whether err must abort a running pass rather than be
// recorded against a single document.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStoreConnectivity)
}

package docstore

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/tagdex/internal/apperr"
)

// wrapErr prefixes err with the operation and tags connectivity failures with
// apperr.ErrStoreConnectivity so callers can tell them from bad input.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectivity(err) {
		return fmt.Errorf("docstore: %s: %w: %w", op, apperr.ErrStoreConnectivity, err)
	}
	return fmt.Errorf("docstore: %s: %w", op, err)
}

func isConnectivity(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen,
			sqlite3.ErrIoErr, sqlite3.ErrNotADB, sqlite3.ErrCorrupt:
			return true
		}
	}
	// database/sql does not export its closed-pool sentinel.
	return strings.Contains(err.Error(), "sql: database is closed")
}

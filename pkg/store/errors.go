package store

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// errors reported by engines other than sqlite can wrap these to be treated as resource exhaustion
var (
	ErrDiskIO      = errors.New("disk i/o error")
	ErrStorageFull = errors.New("storage full")
)

const cantOpenMsg = "unable to open database file"

// IsLowStorage reports whether the error means the storage is exhausted or unavailable:
// disk i/o failure, database or disk is full, or the database file can't be opened.
func IsLowStorage(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDiskIO) || errors.Is(err, ErrStorageFull) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		// extended result codes keep the primary code in the lower byte
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL, sqlite3.SQLITE_CANTOPEN:
			return true
		}
	}
	return strings.Contains(err.Error(), cantOpenMsg)
}

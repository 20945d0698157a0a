package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the storage layer. Callers should use errors.Is() to
// classify failures; HTTP handlers map these to status codes.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBucketNotFound indicates the target bucket has not been created.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrEtagConflict indicates an optimistic-concurrency failure: the row's
	// stored version token did not match the expected one, or a conditional
	// create found an existing row. Retryable after re-reading fresh state.
	ErrEtagConflict = errors.New("etag conflict")

	// ErrNotIndexed indicates a filter referenced a field that is not in the
	// bucket's index allow-list. Searching on such a field would silently
	// match every row, so it is rejected instead.
	ErrNotIndexed = errors.New("field not indexed")
)

// WrapIfConflict normalizes a backend error into ErrEtagConflict when it
// represents a uniqueness or compare-and-swap violation (e.g. a UNIQUE
// constraint error from the SQLite driver).
func WrapIfConflict(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "constraint") {
		return fmt.Errorf("%w: %v", ErrEtagConflict, err)
	}
	return err
}

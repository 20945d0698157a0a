// Package storage is the adapter between the allocation engine and the
// bucketed, versioned key/value store that persists networks, pools, IPs and
// NICs. Every row carries an opaque version token (etag); conditional writes
// against that token are the only cross-process synchronization in the
// system.
package storage

import (
	"context"
	"strconv"
)

// IndexType describes how a bucket field is indexed for find operations.
type IndexType string

const (
	IndexString      IndexType = "string"
	IndexNumber      IndexType = "number"
	IndexBool        IndexType = "boolean"
	IndexStringArray IndexType = "[string]"
)

// Bucket describes a named collection and the fields it indexes. Filters may
// only reference indexed fields.
type Bucket struct {
	Name string
	// Version is the bucket's schema generation, stored on every row as "v".
	Version int
	Indexes map[string]IndexType
}

// Row is one stored record: a flat map of field name to value.
type Row map[string]any

// Object is a row together with its location and version token.
type Object struct {
	Bucket string
	Key    string
	Value  Row
	Etag   string
}

// PutOptions controls conditional writes. When Check is true the write is
// conditional: an empty Etag requires that no row exists yet (optimistic
// create), a non-empty Etag must equal the stored token (compare-and-swap).
// When Check is false the write is unconditional.
type PutOptions struct {
	Check bool
	Etag  string
}

// PutIfNotExists is the conditional-create option for rows that have never
// been persisted.
func PutIfNotExists() PutOptions {
	return PutOptions{Check: true}
}

// PutIfEtag is the compare-and-swap option for updating an existing row.
func PutIfEtag(etag string) PutOptions {
	return PutOptions{Check: true, Etag: etag}
}

// FindOptions controls result ordering and pagination.
type FindOptions struct {
	// Sort is the indexed field to order by; empty means key order.
	Sort       string
	Descending bool
	Limit      int
	Offset     int
}

// Store is the capability consumed from the backing store. Implementations
// must make Batch atomic: either every mutation applies or none does.
type Store interface {
	// CreateBucket creates a bucket if it does not exist. Re-creating an
	// existing bucket with the same schema is a no-op.
	CreateBucket(ctx context.Context, b Bucket) error

	// GetObject returns one row. ErrNotFound if absent.
	GetObject(ctx context.Context, bucket, key string) (*Object, error)

	// PutObject writes one row and returns its new etag.
	PutObject(ctx context.Context, bucket, key string, val Row, opts PutOptions) (string, error)

	// DeleteObject removes one row. ErrNotFound if absent.
	DeleteObject(ctx context.Context, bucket, key string) error

	// FindObjects returns rows matching the filter. The filter must only
	// reference indexed fields (ErrNotIndexed otherwise).
	FindObjects(ctx context.Context, bucket string, f *Filter, opts FindOptions) ([]Object, error)

	// Batch applies the mutations in the given order as one atomic commit
	// and returns the new etag for each mutation (empty string for
	// deletes), aligned by index.
	Batch(ctx context.Context, muts []Mutation) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}

// Field accessors tolerant of JSON round-trips: numeric values may come back
// as int, int64, uint32, uint64 or float64 depending on the backend.

// Uint32Field returns the named field as a uint32.
func (r Row) Uint32Field(name string) (uint32, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case uint32:
		return n, true
	case int:
		return uint32(n), true
	case int64:
		return uint32(n), true
	case uint64:
		return uint32(n), true
	case float64:
		return uint32(n), true
	case string:
		u, err := strconv.ParseUint(n, 10, 32)
		if err != nil {
			return 0, false
		}
		return uint32(u), true
	}
	return 0, false
}

// Uint64Field returns the named field as a uint64. Used for fields wider
// than 32 bits, such as MAC addresses.
func (r Row) Uint64Field(name string) (uint64, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case uint64:
		return n, true
	case int:
		return uint64(n), true
	case int64:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case float64:
		return uint64(n), true
	case string:
		u, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return u, true
	}
	return 0, false
}

// IntField returns the named field as an int.
func (r Row) IntField(name string) (int, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// StringField returns the named field as a string.
func (r Row) StringField(name string) (string, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// BoolField returns the named field as a bool. Absent fields are false.
func (r Row) BoolField(name string) bool {
	v, ok := r[name]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// StringsField returns the named field as a string slice.
func (r Row) StringsField(name string) []string {
	v, ok := r[name]
	if !ok || v == nil {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// Clone returns a deep-enough copy of the row (slices copied, values shared).
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		if s, ok := v.([]string); ok {
			out[k] = append([]string(nil), s...)
			continue
		}
		if s, ok := v.([]any); ok {
			out[k] = append([]any(nil), s...)
			continue
		}
		out[k] = v
	}
	return out
}

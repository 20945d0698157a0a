package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation for quick start and
// tests. It honors the same conditional-write and atomic-batch semantics as
// the real backends.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]Bucket
	rows    map[string]map[string]memRow
}

type memRow struct {
	value Row
	etag  string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]Bucket),
		rows:    make(map[string]map[string]memRow),
	}
}

func (m *MemoryStore) CreateBucket(ctx context.Context, b Bucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[b.Name]; !ok {
		m.buckets[b.Name] = b
		m.rows[b.Name] = make(map[string]memRow)
	}
	return nil
}

func (m *MemoryStore) GetObject(ctx context.Context, bucket, key string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.rows[bucket]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}
	r, ok := rows[key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	return &Object{Bucket: bucket, Key: key, Value: r.value.Clone(), Etag: r.etag}, nil
}

func (m *MemoryStore) PutObject(ctx context.Context, bucket, key string, val Row, opts PutOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(bucket, key, val, opts)
}

func (m *MemoryStore) putLocked(bucket, key string, val Row, opts PutOptions) (string, error) {
	rows, ok := m.rows[bucket]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}
	if err := m.checkEtagLocked(bucket, key, opts); err != nil {
		return "", err
	}
	etag := uuid.NewString()
	rows[key] = memRow{value: val.Clone(), etag: etag}
	return etag, nil
}

func (m *MemoryStore) checkEtagLocked(bucket, key string, opts PutOptions) error {
	if !opts.Check {
		return nil
	}
	cur, exists := m.rows[bucket][key]
	if opts.Etag == "" {
		if exists {
			return fmt.Errorf("%s/%s already exists: %w", bucket, key, ErrEtagConflict)
		}
		return nil
	}
	if !exists || cur.etag != opts.Etag {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrEtagConflict)
	}
	return nil
}

func (m *MemoryStore) DeleteObject(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.rows[bucket]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}
	if _, ok := rows[key]; !ok {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	delete(rows, key)
	return nil
}

func (m *MemoryStore) FindObjects(ctx context.Context, bucket string, f *Filter, opts FindOptions) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}
	if err := f.Validate(b); err != nil {
		return nil, err
	}
	var out []Object
	for key, r := range m.rows[bucket] {
		if !f.Matches(r.value) {
			continue
		}
		out = append(out, Object{Bucket: bucket, Key: key, Value: r.value.Clone(), Etag: r.etag})
	}
	SortFindResults(out, b, opts)
	return PaginateFindResults(out, opts), nil
}

// Batch validates every conditional write first, then applies all mutations.
// A single etag conflict rejects the whole batch with nothing applied.
func (m *MemoryStore) Batch(ctx context.Context, muts []Mutation) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mut := range muts {
		if _, ok := m.rows[mut.Bucket]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, mut.Bucket)
		}
		if mut.Op == OpPut {
			if err := m.checkEtagLocked(mut.Bucket, mut.Key, mut.Options); err != nil {
				return nil, err
			}
		}
	}

	etags := make([]string, len(muts))
	for i, mut := range muts {
		switch mut.Op {
		case OpPut:
			etag := uuid.NewString()
			m.rows[mut.Bucket][mut.Key] = memRow{value: mut.Value.Clone(), etag: etag}
			etags[i] = etag
		case OpDelete:
			delete(m.rows[mut.Bucket], mut.Key)
		}
	}
	return etags, nil
}

// Close is a no-op for MemoryStore as it holds no external resources.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)

// SortFindResults orders find results by the requested indexed field,
// falling back to key order. Number-indexed fields compare numerically.
// Shared by the embedded backends, which all filter in-process.
func SortFindResults(objs []Object, b Bucket, opts FindOptions) {
	less := func(i, j int) bool { return objs[i].Key < objs[j].Key }
	if opts.Sort != "" {
		if t, ok := b.Indexes[opts.Sort]; ok && t == IndexNumber {
			// uint64 so 48-bit values (MAC keys) compare without
			// truncation.
			less = func(i, j int) bool {
				vi, _ := objs[i].Value.Uint64Field(opts.Sort)
				vj, _ := objs[j].Value.Uint64Field(opts.Sort)
				return vi < vj
			}
		} else {
			less = func(i, j int) bool {
				vi, _ := objs[i].Value.StringField(opts.Sort)
				vj, _ := objs[j].Value.StringField(opts.Sort)
				return vi < vj
			}
		}
	}
	if opts.Descending {
		orig := less
		less = func(i, j int) bool { return orig(j, i) }
	}
	sort.SliceStable(objs, less)
}

// PaginateFindResults applies FindOptions offset/limit to a result slice.
func PaginateFindResults(objs []Object, opts FindOptions) []Object {
	if opts.Offset > 0 {
		if opts.Offset >= len(objs) {
			return nil
		}
		objs = objs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(objs) {
		objs = objs[:opts.Limit]
	}
	return objs
}

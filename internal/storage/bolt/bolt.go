//go:build bolt

// Package bolt provides a BoltDB-backed implementation of the generic
// bucketed store. Store buckets map directly onto bbolt buckets; object
// values are stored as JSON with the etag alongside.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	bboltdb "go.etcd.io/bbolt"

	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

var bucketMeta = []byte("_meta")

// Store is a bbolt-backed storage.Store.
type Store struct {
	db *bboltdb.DB
}

type record struct {
	Value storage.Row `json:"value"`
	Etag  string      `json:"etag"`
}

// New opens a bbolt store at the given path.
func New(path string) (*Store, error) {
	db, err := bboltdb.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bboltdb.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

var _ storage.Store = (*Store)(nil)

func (s *Store) CreateBucket(ctx context.Context, b storage.Bucket) error {
	return s.db.Update(func(tx *bboltdb.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(b.Name)); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", b.Name, err)
		}
		meta := tx.Bucket(bucketMeta)
		if meta.Get([]byte(b.Name)) != nil {
			return nil
		}
		data, err := json.Marshal(b)
		if err != nil {
			return err
		}
		return meta.Put([]byte(b.Name), data)
	})
}

func getBucketSchema(tx *bboltdb.Tx, name string) (storage.Bucket, error) {
	var b storage.Bucket
	data := tx.Bucket(bucketMeta).Get([]byte(name))
	if data == nil {
		return b, fmt.Errorf("%w: %s", storage.ErrBucketNotFound, name)
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, err
	}
	return b, nil
}

func (s *Store) GetObject(ctx context.Context, bucket, key string) (*storage.Object, error) {
	var obj *storage.Object
	err := s.db.View(func(tx *bboltdb.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%w: %s", storage.ErrBucketNotFound, bucket)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		obj = &storage.Object{Bucket: bucket, Key: key, Value: rec.Value, Etag: rec.Etag}
		return nil
	})
	return obj, err
}

func checkEtag(b *bboltdb.Bucket, bucket, key string, opts storage.PutOptions) error {
	if !opts.Check {
		return nil
	}
	data := b.Get([]byte(key))
	if opts.Etag == "" {
		if data != nil {
			return fmt.Errorf("%s/%s already exists: %w", bucket, key, storage.ErrEtagConflict)
		}
		return nil
	}
	if data == nil {
		return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrEtagConflict)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	if rec.Etag != opts.Etag {
		return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrEtagConflict)
	}
	return nil
}

func putRecord(b *bboltdb.Bucket, key string, val storage.Row) (string, error) {
	etag := uuid.NewString()
	data, err := json.Marshal(record{Value: val, Etag: etag})
	if err != nil {
		return "", err
	}
	return etag, b.Put([]byte(key), data)
}

func (s *Store) PutObject(ctx context.Context, bucket, key string, val storage.Row, opts storage.PutOptions) (string, error) {
	var etag string
	err := s.db.Update(func(tx *bboltdb.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%w: %s", storage.ErrBucketNotFound, bucket)
		}
		if err := checkEtag(b, bucket, key, opts); err != nil {
			return err
		}
		var err error
		etag, err = putRecord(b, key, val)
		return err
	})
	return etag, err
}

func (s *Store) DeleteObject(ctx context.Context, bucket, key string) error {
	return s.db.Update(func(tx *bboltdb.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%w: %s", storage.ErrBucketNotFound, bucket)
		}
		if b.Get([]byte(key)) == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
		}
		return b.Delete([]byte(key))
	})
}

func (s *Store) FindObjects(ctx context.Context, bucket string, f *storage.Filter, opts storage.FindOptions) ([]storage.Object, error) {
	var out []storage.Object
	err := s.db.View(func(tx *bboltdb.Tx) error {
		schema, err := getBucketSchema(tx, bucket)
		if err != nil {
			return err
		}
		if err := f.Validate(schema); err != nil {
			return err
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%w: %s", storage.ErrBucketNotFound, bucket)
		}
		if err := b.ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if !f.Matches(rec.Value) {
				return nil
			}
			out = append(out, storage.Object{Bucket: bucket, Key: string(k), Value: rec.Value, Etag: rec.Etag})
			return nil
		}); err != nil {
			return err
		}
		storage.SortFindResults(out, schema, opts)
		out = storage.PaginateFindResults(out, opts)
		return nil
	})
	return out, err
}

// Batch applies all mutations in one bbolt write transaction. Conditional
// writes are validated before anything is applied, so an etag conflict
// rejects the whole batch with nothing written.
func (s *Store) Batch(ctx context.Context, muts []storage.Mutation) ([]string, error) {
	etags := make([]string, len(muts))
	err := s.db.Update(func(tx *bboltdb.Tx) error {
		for _, m := range muts {
			b := tx.Bucket([]byte(m.Bucket))
			if b == nil {
				return fmt.Errorf("%w: %s", storage.ErrBucketNotFound, m.Bucket)
			}
			if m.Op == storage.OpPut {
				if err := checkEtag(b, m.Bucket, m.Key, m.Options); err != nil {
					return err
				}
			}
		}
		for i, m := range muts {
			b := tx.Bucket([]byte(m.Bucket))
			switch m.Op {
			case storage.OpPut:
				etag, err := putRecord(b, m.Key, m.Value)
				if err != nil {
					return err
				}
				etags[i] = etag
			case storage.OpDelete:
				if err := b.Delete([]byte(m.Key)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return etags, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

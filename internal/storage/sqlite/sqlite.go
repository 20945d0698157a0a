//go:build sqlite

// Package sqlite provides a SQLite-backed implementation of the generic
// bucketed store. Buckets map to rows in a schema table; objects live in a
// single (bucket, key) keyed table with their JSON value and etag.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // CGO-less SQLite driver

	"github.com/google/uuid"

	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// Store is a SQLite-backed storage.Store.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) a SQLite store at the given DSN.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Batch atomicity depends on a single writer; serialize connections.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

var _ storage.Store = (*Store)(nil)

func (s *Store) CreateBucket(ctx context.Context, b storage.Bucket) error {
	idx, err := json.Marshal(b.Indexes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO buckets(name, version, indexes) VALUES(?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		b.Name, b.Version, string(idx))
	return err
}

func (s *Store) getBucket(ctx context.Context, q queryer, name string) (storage.Bucket, error) {
	var b storage.Bucket
	var idx string
	row := q.QueryRowContext(ctx, `SELECT name, version, indexes FROM buckets WHERE name=?`, name)
	if err := row.Scan(&b.Name, &b.Version, &idx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, fmt.Errorf("%w: %s", storage.ErrBucketNotFound, name)
		}
		return b, err
	}
	if err := json.Unmarshal([]byte(idx), &b.Indexes); err != nil {
		return b, err
	}
	return b, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) GetObject(ctx context.Context, bucket, key string) (*storage.Object, error) {
	if _, err := s.getBucket(ctx, s.db, bucket); err != nil {
		return nil, err
	}
	return getObject(ctx, s.db, bucket, key)
}

func getObject(ctx context.Context, q queryer, bucket, key string) (*storage.Object, error) {
	var raw, etag string
	row := q.QueryRowContext(ctx, `SELECT value, etag FROM objects WHERE bucket=? AND key=?`, bucket, key)
	if err := row.Scan(&raw, &etag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
		}
		return nil, err
	}
	var val storage.Row
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return nil, err
	}
	return &storage.Object{Bucket: bucket, Key: key, Value: val, Etag: etag}, nil
}

type execer interface {
	queryer
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) PutObject(ctx context.Context, bucket, key string, val storage.Row, opts storage.PutOptions) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := s.getBucket(ctx, tx, bucket); err != nil {
		return "", err
	}
	etag, err := putObject(ctx, tx, bucket, key, val, opts)
	if err != nil {
		return "", err
	}
	return etag, tx.Commit()
}

func putObject(ctx context.Context, q execer, bucket, key string, val storage.Row, opts storage.PutOptions) (string, error) {
	if err := checkEtag(ctx, q, bucket, key, opts); err != nil {
		return "", err
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return "", err
	}
	etag := uuid.NewString()
	_, err = q.ExecContext(ctx,
		`INSERT INTO objects(bucket, key, value, etag) VALUES(?, ?, ?, ?)
		 ON CONFLICT(bucket, key) DO UPDATE SET value=excluded.value, etag=excluded.etag`,
		bucket, key, string(raw), etag)
	if err != nil {
		return "", storage.WrapIfConflict(err)
	}
	return etag, nil
}

func checkEtag(ctx context.Context, q queryer, bucket, key string, opts storage.PutOptions) error {
	if !opts.Check {
		return nil
	}
	var cur string
	err := q.QueryRowContext(ctx, `SELECT etag FROM objects WHERE bucket=? AND key=?`, bucket, key).Scan(&cur)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if opts.Etag == "" {
		if exists {
			return fmt.Errorf("%s/%s already exists: %w", bucket, key, storage.ErrEtagConflict)
		}
		return nil
	}
	if !exists || cur != opts.Etag {
		return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrEtagConflict)
	}
	return nil
}

func (s *Store) DeleteObject(ctx context.Context, bucket, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE bucket=? AND key=?`, bucket, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	return nil
}

// FindObjects scans the bucket and evaluates the filter in-process. The
// bucket sizes this service manages (networks, per-network IP ranges, NICs)
// keep these scans small; the filter is still validated against the index
// allow-list so queries stay portable to an indexed backend.
func (s *Store) FindObjects(ctx context.Context, bucket string, f *storage.Filter, opts storage.FindOptions) ([]storage.Object, error) {
	b, err := s.getBucket(ctx, s.db, bucket)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(b); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, etag FROM objects WHERE bucket=? ORDER BY key ASC`, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Object
	for rows.Next() {
		var key, raw, etag string
		if err := rows.Scan(&key, &raw, &etag); err != nil {
			return nil, err
		}
		var val storage.Row
		if err := json.Unmarshal([]byte(raw), &val); err != nil {
			return nil, err
		}
		if !f.Matches(val) {
			continue
		}
		out = append(out, storage.Object{Bucket: bucket, Key: key, Value: val, Etag: etag})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	storage.SortFindResults(out, b, opts)
	return storage.PaginateFindResults(out, opts), nil
}

// Batch applies all mutations inside one transaction. Conditional writes are
// validated first so an etag conflict rejects the whole batch untouched.
func (s *Store) Batch(ctx context.Context, muts []storage.Mutation) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range muts {
		if _, err := s.getBucket(ctx, tx, m.Bucket); err != nil {
			return nil, err
		}
		if m.Op == storage.OpPut {
			if err := checkEtag(ctx, tx, m.Bucket, m.Key, m.Options); err != nil {
				return nil, err
			}
		}
	}

	etags := make([]string, len(muts))
	for i, m := range muts {
		switch m.Op {
		case storage.OpPut:
			// Etag already validated above; write unconditionally.
			etag, err := putObject(ctx, tx, m.Bucket, m.Key, m.Value, storage.PutOptions{})
			if err != nil {
				return nil, err
			}
			etags[i] = etag
		case storage.OpDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE bucket=? AND key=?`, m.Bucket, m.Key); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return etags, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

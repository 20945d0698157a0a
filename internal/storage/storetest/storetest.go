// Package storetest holds the conformance suite every Store backend must
// pass. Backend test files construct a fresh store and hand it to Run.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) storage.Store

// Run exercises the Store contract against the given backend.
func Run(t *testing.T, newStore Factory) {
	t.Run("PutGetRoundTrip", func(t *testing.T) { testPutGetRoundTrip(t, newStore(t)) })
	t.Run("ConditionalCreate", func(t *testing.T) { testConditionalCreate(t, newStore(t)) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("FindFilterSortPaginate", func(t *testing.T) { testFind(t, newStore(t)) })
	t.Run("FindRejectsUnindexed", func(t *testing.T) { testFindUnindexed(t, newStore(t)) })
	t.Run("BatchAtomicity", func(t *testing.T) { testBatchAtomicity(t, newStore(t)) })
	t.Run("BucketNotFound", func(t *testing.T) { testBucketNotFound(t, newStore(t)) })
}

var testBucket = storage.Bucket{
	Name:    "conformance",
	Version: 1,
	Indexes: map[string]storage.IndexType{
		"name": storage.IndexString,
		"rank": storage.IndexNumber,
		"live": storage.IndexBool,
	},
}

func mkBucket(t *testing.T, st storage.Store) {
	t.Helper()
	if err := st.CreateBucket(context.Background(), testBucket); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	// Re-creating with the same schema is a no-op.
	if err := st.CreateBucket(context.Background(), testBucket); err != nil {
		t.Fatalf("CreateBucket (repeat): %v", err)
	}
}

func testPutGetRoundTrip(t *testing.T, st storage.Store) {
	ctx := context.Background()
	mkBucket(t, st)

	row := storage.Row{"name": "alpha", "rank": 7, "live": true, "v": 1}
	etag, err := st.PutObject(ctx, testBucket.Name, "a", row, storage.PutOptions{})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if etag == "" {
		t.Fatal("PutObject returned empty etag")
	}

	obj, err := st.GetObject(ctx, testBucket.Name, "a")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if obj.Etag != etag {
		t.Errorf("etag = %q, want %q", obj.Etag, etag)
	}
	if name, _ := obj.Value.StringField("name"); name != "alpha" {
		t.Errorf("name = %q, want alpha", name)
	}
	if rank, ok := obj.Value.Uint32Field("rank"); !ok || rank != 7 {
		t.Errorf("rank = %d (ok=%v), want 7", rank, ok)
	}
	if !obj.Value.BoolField("live") {
		t.Error("live = false, want true")
	}

	if _, err := st.GetObject(ctx, testBucket.Name, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetObject(missing) = %v, want ErrNotFound", err)
	}
}

func testConditionalCreate(t *testing.T, st storage.Store) {
	ctx := context.Background()
	mkBucket(t, st)

	row := storage.Row{"name": "alpha", "v": 1}
	if _, err := st.PutObject(ctx, testBucket.Name, "a", row, storage.PutIfNotExists()); err != nil {
		t.Fatalf("conditional create: %v", err)
	}
	_, err := st.PutObject(ctx, testBucket.Name, "a", row, storage.PutIfNotExists())
	if !errors.Is(err, storage.ErrEtagConflict) {
		t.Errorf("second conditional create = %v, want ErrEtagConflict", err)
	}
}

func testCompareAndSwap(t *testing.T, st storage.Store) {
	ctx := context.Background()
	mkBucket(t, st)

	etag, err := st.PutObject(ctx, testBucket.Name, "a", storage.Row{"name": "alpha", "v": 1}, storage.PutOptions{})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	next, err := st.PutObject(ctx, testBucket.Name, "a", storage.Row{"name": "beta", "v": 1}, storage.PutIfEtag(etag))
	if err != nil {
		t.Fatalf("CAS with current etag: %v", err)
	}
	if next == etag {
		t.Error("CAS did not advance the etag")
	}

	_, err = st.PutObject(ctx, testBucket.Name, "a", storage.Row{"name": "gamma", "v": 1}, storage.PutIfEtag(etag))
	if !errors.Is(err, storage.ErrEtagConflict) {
		t.Errorf("CAS with stale etag = %v, want ErrEtagConflict", err)
	}

	obj, err := st.GetObject(ctx, testBucket.Name, "a")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if name, _ := obj.Value.StringField("name"); name != "beta" {
		t.Errorf("name = %q, want beta (stale write must not apply)", name)
	}
}

func testDelete(t *testing.T, st storage.Store) {
	ctx := context.Background()
	mkBucket(t, st)

	if _, err := st.PutObject(ctx, testBucket.Name, "a", storage.Row{"name": "alpha", "v": 1}, storage.PutOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.DeleteObject(ctx, testBucket.Name, "a"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if _, err := st.GetObject(ctx, testBucket.Name, "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetObject after delete = %v, want ErrNotFound", err)
	}
	if err := st.DeleteObject(ctx, testBucket.Name, "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteObject(absent) = %v, want ErrNotFound", err)
	}
}

func testFind(t *testing.T, st storage.Store) {
	ctx := context.Background()
	mkBucket(t, st)

	seed := []struct {
		key  string
		name string
		rank int
		live bool
	}{
		{"c", "gamma", 3, true},
		{"a", "alpha", 1, true},
		{"b", "beta", 2, false},
		{"d", "alpha", 4, true},
	}
	for _, s := range seed {
		row := storage.Row{"name": s.name, "rank": s.rank, "live": s.live, "v": 1}
		if _, err := st.PutObject(ctx, testBucket.Name, s.key, row, storage.PutOptions{}); err != nil {
			t.Fatalf("seed %s: %v", s.key, err)
		}
	}

	objs, err := st.FindObjects(ctx, testBucket.Name,
		storage.NewFilter().Eq("name", "alpha"), storage.FindOptions{})
	if err != nil {
		t.Fatalf("FindObjects(name=alpha): %v", err)
	}
	if len(objs) != 2 || objs[0].Key != "a" || objs[1].Key != "d" {
		t.Fatalf("name=alpha keys = %v, want [a d]", keys(objs))
	}

	objs, err = st.FindObjects(ctx, testBucket.Name, nil,
		storage.FindOptions{Sort: "rank", Descending: true})
	if err != nil {
		t.Fatalf("FindObjects(sort rank desc): %v", err)
	}
	if len(objs) != 4 || objs[0].Key != "d" || objs[3].Key != "a" {
		t.Fatalf("rank desc keys = %v, want [d c b a]", keys(objs))
	}

	objs, err = st.FindObjects(ctx, testBucket.Name, nil,
		storage.FindOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("FindObjects(paginate): %v", err)
	}
	if len(objs) != 2 || objs[0].Key != "b" || objs[1].Key != "c" {
		t.Fatalf("page keys = %v, want [b c]", keys(objs))
	}

	objs, err = st.FindObjects(ctx, testBucket.Name,
		storage.NewFilter().Eq("live", false), storage.FindOptions{})
	if err != nil {
		t.Fatalf("FindObjects(live=false): %v", err)
	}
	if len(objs) != 1 || objs[0].Key != "b" {
		t.Fatalf("live=false keys = %v, want [b]", keys(objs))
	}
}

func testFindUnindexed(t *testing.T, st storage.Store) {
	ctx := context.Background()
	mkBucket(t, st)

	_, err := st.FindObjects(ctx, testBucket.Name,
		storage.NewFilter().Eq("color", "red"), storage.FindOptions{})
	if !errors.Is(err, storage.ErrNotIndexed) {
		t.Errorf("filter on unindexed field = %v, want ErrNotIndexed", err)
	}
}

func testBatchAtomicity(t *testing.T, st storage.Store) {
	ctx := context.Background()
	mkBucket(t, st)

	etag, err := st.PutObject(ctx, testBucket.Name, "a", storage.Row{"name": "alpha", "v": 1}, storage.PutOptions{})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// First mutation is valid, second carries a stale etag. Nothing may
	// apply.
	_, err = st.Batch(ctx, []storage.Mutation{
		{Bucket: testBucket.Name, Key: "b", Op: storage.OpPut,
			Value: storage.Row{"name": "beta", "v": 1}, Options: storage.PutIfNotExists()},
		{Bucket: testBucket.Name, Key: "a", Op: storage.OpPut,
			Value: storage.Row{"name": "stale", "v": 1}, Options: storage.PutIfEtag("bogus")},
	})
	if !errors.Is(err, storage.ErrEtagConflict) {
		t.Fatalf("conflicting batch = %v, want ErrEtagConflict", err)
	}
	if _, err := st.GetObject(ctx, testBucket.Name, "b"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("row b exists after failed batch; Batch must be atomic")
	}

	etags, err := st.Batch(ctx, []storage.Mutation{
		{Bucket: testBucket.Name, Key: "b", Op: storage.OpPut,
			Value: storage.Row{"name": "beta", "v": 1}, Options: storage.PutIfNotExists()},
		{Bucket: testBucket.Name, Key: "a", Op: storage.OpPut,
			Value: storage.Row{"name": "omega", "v": 1}, Options: storage.PutIfEtag(etag)},
		{Bucket: testBucket.Name, Key: "b", Op: storage.OpDelete},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(etags) != 3 || etags[0] == "" || etags[1] == "" || etags[2] != "" {
		t.Errorf("batch etags = %v, want [non-empty non-empty empty]", etags)
	}
	if _, err := st.GetObject(ctx, testBucket.Name, "b"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("row b survived its in-batch delete: %v", err)
	}
	obj, err := st.GetObject(ctx, testBucket.Name, "a")
	if err != nil {
		t.Fatalf("GetObject(a): %v", err)
	}
	if name, _ := obj.Value.StringField("name"); name != "omega" {
		t.Errorf("name = %q, want omega", name)
	}
}

func testBucketNotFound(t *testing.T, st storage.Store) {
	ctx := context.Background()

	if _, err := st.GetObject(ctx, "nope", "a"); !errors.Is(err, storage.ErrBucketNotFound) {
		t.Errorf("GetObject = %v, want ErrBucketNotFound", err)
	}
	if _, err := st.PutObject(ctx, "nope", "a", storage.Row{}, storage.PutOptions{}); !errors.Is(err, storage.ErrBucketNotFound) {
		t.Errorf("PutObject = %v, want ErrBucketNotFound", err)
	}
	if _, err := st.FindObjects(ctx, "nope", nil, storage.FindOptions{}); !errors.Is(err, storage.ErrBucketNotFound) {
		t.Errorf("FindObjects = %v, want ErrBucketNotFound", err)
	}
}

func keys(objs []storage.Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Key)
	}
	return out
}

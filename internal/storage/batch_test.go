package storage

import (
	"context"
	"errors"
	"math/rand"
	"testing"
)

func TestSortBatchOrder(t *testing.T) {
	muts := []Mutation{
		{Bucket: "napi_ips_a", Key: "167772161", Op: OpPut},
		{Bucket: "napi_nics", Key: "100", Op: OpPut},
		{Bucket: "napi_networks", Key: "uuid-1", Op: OpPut},
		{Bucket: "napi_ips_a", Key: "167772160", Op: OpPut},
	}
	got := SortBatch(muts)

	want := []struct{ bucket, key string }{
		{"napi_nics", "100"},
		{"napi_networks", "uuid-1"},
		{"napi_ips_a", "167772160"},
		{"napi_ips_a", "167772161"},
	}
	for i, w := range want {
		if got[i].Bucket != w.bucket || got[i].Key != w.key {
			t.Errorf("position %d: got %s/%s, want %s/%s",
				i, got[i].Bucket, got[i].Key, w.bucket, w.key)
		}
	}
}

func TestSortBatchDeterministic(t *testing.T) {
	base := []Mutation{
		{Bucket: "napi_networks", Key: "n1", Op: OpPut},
		{Bucket: "napi_ips_x", Key: "1", Op: OpPut},
		{Bucket: "napi_ips_x", Key: "2", Op: OpPut},
		{Bucket: "napi_nics", Key: "5", Op: OpPut},
		{Bucket: "napi_network_pools", Key: "p1", Op: OpPut},
	}
	ref := SortBatch(append([]Mutation(nil), base...))

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		shuffled := append([]Mutation(nil), base...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		got := SortBatch(shuffled)
		for i := range ref {
			if got[i].Bucket != ref[i].Bucket || got[i].Key != ref[i].Key {
				t.Fatalf("trial %d: order differs at %d: %s/%s vs %s/%s",
					trial, i, got[i].Bucket, got[i].Key, ref[i].Bucket, ref[i].Key)
			}
		}
	}
}

func TestSortBatchEventsLast(t *testing.T) {
	muts := []Mutation{
		{Bucket: "napi_overlay_events", Key: "e1", Op: OpPut, EventSink: true},
		{Bucket: "napi_ips_a", Key: "1", Op: OpPut},
		{Bucket: "napi_overlay_events", Key: "e2", Op: OpPut, EventSink: true},
		{Bucket: "zzz_bucket", Key: "k", Op: OpPut},
	}
	got := SortBatch(muts)

	// Topology mutations first, then event mutations in program order.
	if got[len(got)-2].Key != "e1" || got[len(got)-1].Key != "e2" {
		t.Errorf("event mutations not in program order at tail: %v, %v",
			got[len(got)-2].Key, got[len(got)-1].Key)
	}
	for _, m := range got[:len(got)-2] {
		if m.EventSink {
			t.Errorf("event mutation %s/%s sorted before topology", m.Bucket, m.Key)
		}
	}
}

func TestCommitCallbacks(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	if err := st.CreateBucket(ctx, Bucket{Name: "b1", Version: 1}); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}

	var etag1, etag2 string
	muts := []Mutation{
		{Bucket: "b1", Key: "k1", Op: OpPut, Value: Row{"x": 1},
			Options: PutIfNotExists(), OnCommit: func(e string) { etag1 = e }},
		{Bucket: "b1", Key: "k2", Op: OpPut, Value: Row{"x": 2},
			Options: PutIfNotExists(), OnCommit: func(e string) { etag2 = e }},
	}
	if err := Commit(ctx, st, muts); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if etag1 == "" || etag2 == "" {
		t.Fatal("OnCommit did not deliver etags")
	}

	obj, err := st.GetObject(ctx, "b1", "k1")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if obj.Etag != etag1 {
		t.Errorf("stored etag %q != callback etag %q", obj.Etag, etag1)
	}
}

func TestCommitConflictAppliesNothing(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	if err := st.CreateBucket(ctx, Bucket{Name: "b1", Version: 1}); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if _, err := st.PutObject(ctx, "b1", "existing", Row{"x": 1}, PutOptions{}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	called := false
	muts := []Mutation{
		{Bucket: "b1", Key: "fresh", Op: OpPut, Value: Row{"x": 2},
			Options: PutIfNotExists(), OnCommit: func(string) { called = true }},
		// Conflicts: the row exists but the create is conditional on absence.
		{Bucket: "b1", Key: "existing", Op: OpPut, Value: Row{"x": 3},
			Options: PutIfNotExists()},
	}
	err := Commit(ctx, st, muts)
	if !errors.Is(err, ErrEtagConflict) {
		t.Fatalf("expected ErrEtagConflict, got %v", err)
	}
	if called {
		t.Error("OnCommit ran for a failed batch")
	}
	if _, err := st.GetObject(ctx, "b1", "fresh"); !errors.Is(err, ErrNotFound) {
		t.Error("failed batch left a row behind")
	}
}

func TestBatchCASUpdate(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	if err := st.CreateBucket(ctx, Bucket{Name: "b1", Version: 1}); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	etag, err := st.PutObject(ctx, "b1", "k", Row{"n": 1}, PutOptions{})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	// Stale etag loses.
	_, err = st.Batch(ctx, []Mutation{
		{Bucket: "b1", Key: "k", Op: OpPut, Value: Row{"n": 2}, Options: PutIfEtag("stale")},
	})
	if !errors.Is(err, ErrEtagConflict) {
		t.Fatalf("expected ErrEtagConflict for stale etag, got %v", err)
	}

	// Current etag wins.
	etags, err := st.Batch(ctx, []Mutation{
		{Bucket: "b1", Key: "k", Op: OpPut, Value: Row{"n": 2}, Options: PutIfEtag(etag)},
	})
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if len(etags) != 1 || etags[0] == "" || etags[0] == etag {
		t.Errorf("expected a fresh etag, got %v", etags)
	}
}

//go:build bolt

package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage/storetest"
)

func TestBoltStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		st, err := New(filepath.Join(t.TempDir(), "napi.db"))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "napi.db")
	st, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b := storage.Bucket{
		Name:    "things",
		Version: 1,
		Indexes: map[string]storage.IndexType{"name": storage.IndexString},
	}
	ctx := context.Background()
	if err := st.CreateBucket(ctx, b); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	etag, err := st.PutObject(ctx, b.Name, "a", storage.Row{"name": "alpha", "v": 1}, storage.PutOptions{})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	obj, err := st.GetObject(ctx, b.Name, "a")
	if err != nil {
		t.Fatalf("GetObject after reopen: %v", err)
	}
	if obj.Etag != etag {
		t.Errorf("etag = %q, want %q", obj.Etag, etag)
	}
	if name, _ := obj.Value.StringField("name"); name != "alpha" {
		t.Errorf("name = %q, want alpha", name)
	}
}

//go:build sqlite

package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage/storetest"
)

func TestSQLiteStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		dsn := "file:" + filepath.Join(t.TempDir(), "napi.db")
		st, err := New(dsn)
		if err != nil {
			t.Fatalf("New(%s): %v", dsn, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestMigrationsIdempotent(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "napi.db")
	st, err := New(dsn)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	st, err = New(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close after reopen: %v", err)
	}

	status, err := Status(dsn)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	want := "applied=2 latest=2"
	if status != want {
		t.Errorf("Status = %q, want %q", status, want)
	}
}

// Package testutil provides testing utilities for NAPI integration tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/joshwilsdon-forks/sdc-napi/internal/api"
	"github.com/joshwilsdon-forks/sdc-napi/internal/observability"
	"github.com/joshwilsdon-forks/sdc-napi/internal/params"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// Logger returns a structured logger that discards output.
func Logger() observability.Logger {
	return observability.NewLogger(observability.Config{
		Level:  "debug",
		Format: "json",
		Output: io.Discard,
	})
}

// Context builds an engine context over a fresh in-memory store.
func Context() (*params.Context, *storage.MemoryStore) {
	st := storage.NewMemoryStore()
	return &params.Context{Store: st, Log: Logger()}, st
}

// TestServerComponents holds the pieces of a running test server.
type TestServerComponents struct {
	Server  *httptest.Server
	Store   *storage.MemoryStore
	Logger  observability.Logger
	Cleanup func()
}

// NewTestServer starts a fully wired API server over an in-memory store.
func NewTestServer(t *testing.T) *TestServerComponents {
	t.Helper()

	store := storage.NewMemoryStore()
	logger := Logger()

	mux := http.NewServeMux()
	srv := api.NewServer(mux, store, logger, nil)
	srv.RegisterRoutes()

	handler := api.ApplyMiddlewares(
		mux,
		api.RequestIDMiddleware(),
	)
	testServer := httptest.NewServer(handler)

	cleanup := func() {
		testServer.Close()
		_ = store.Close()
	}
	return &TestServerComponents{
		Server:  testServer,
		Store:   store,
		Logger:  logger,
		Cleanup: cleanup,
	}
}

// URL returns the full URL for a given path.
func (c *TestServerComponents) URL(path string) string {
	return c.Server.URL + path
}

// JSONBody creates an io.Reader from a JSON-serializable value.
func JSONBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return bytes.NewReader(data)
}

// ReadJSONResponse reads and unmarshals a JSON response body.
func ReadJSONResponse(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("failed to unmarshal response: %v\nBody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func AssertStatus(t *testing.T, got, expected int) {
	t.Helper()
	if got != expected {
		t.Errorf("expected status %d, got %d", expected, got)
	}
}

// ConflictStore wraps a Store and fails the first N batch commits touching
// the named bucket with a version conflict. It simulates a concurrent writer
// winning the compare-and-swap race.
type ConflictStore struct {
	storage.Store

	mu        sync.Mutex
	bucket    string
	remaining int
	Conflicts int
}

// NewConflictStore wraps inner, injecting n conflicts on batches that touch
// bucket.
func NewConflictStore(inner storage.Store, bucket string, n int) *ConflictStore {
	return &ConflictStore{Store: inner, bucket: bucket, remaining: n}
}

// Batch fails with ErrEtagConflict while injected conflicts remain and the
// batch touches the configured bucket; afterwards it delegates to the inner
// store.
func (c *ConflictStore) Batch(ctx context.Context, muts []storage.Mutation) ([]string, error) {
	c.mu.Lock()
	inject := false
	if c.remaining > 0 {
		for _, m := range muts {
			if m.Bucket == c.bucket {
				inject = true
				break
			}
		}
		if inject {
			c.remaining--
			c.Conflicts++
		}
	}
	c.mu.Unlock()

	if inject {
		return nil, storage.ErrEtagConflict
	}
	return c.Store.Batch(ctx, muts)
}

//go:build !sqlite && !bolt

package main

import (
	"github.com/joshwilsdon-forks/sdc-napi/internal/config"
	"github.com/joshwilsdon-forks/sdc-napi/internal/observability"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
)

// selectStore returns the in-memory store when built without a persistence
// tag. Topology does not survive a restart in this mode.
func selectStore(logger observability.Logger, cfg *config.Config) storage.Store {
	if cfg.DatabasePath != "" {
		logger.Warn("database_path set but binary not built with -tags sqlite or -tags bolt; using in-memory store")
	}
	return storage.NewMemoryStore()
}

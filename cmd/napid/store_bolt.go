//go:build bolt

package main

import (
	"github.com/joshwilsdon-forks/sdc-napi/internal/config"
	"github.com/joshwilsdon-forks/sdc-napi/internal/observability"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
	boltstore "github.com/joshwilsdon-forks/sdc-napi/internal/storage/bolt"
)

// selectStore returns a bbolt-backed store when built with the 'bolt' tag.
func selectStore(logger observability.Logger, cfg *config.Config) storage.Store {
	st, err := boltstore.New(cfg.DatabasePath)
	if err != nil {
		logger.Warn("bolt init failed, falling back to memory store", "error", err)
		return storage.NewMemoryStore()
	}
	logger.Info("using bolt store", "path", cfg.DatabasePath)
	return st
}

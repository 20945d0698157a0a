//go:build sqlite

package main

import (
	"github.com/joshwilsdon-forks/sdc-napi/internal/config"
	"github.com/joshwilsdon-forks/sdc-napi/internal/observability"
	"github.com/joshwilsdon-forks/sdc-napi/internal/storage"
	sqlitestore "github.com/joshwilsdon-forks/sdc-napi/internal/storage/sqlite"
)

// selectStore returns a SQLite-backed store when built with the 'sqlite'
// tag. The database path comes from configuration.
func selectStore(logger observability.Logger, cfg *config.Config) storage.Store {
	dsn := "file:" + cfg.DatabasePath + "?cache=shared&_fk=1"
	st, err := sqlitestore.New(dsn)
	if err != nil {
		logger.Warn("sqlite init failed, falling back to memory store", "error", err)
		return storage.NewMemoryStore()
	}
	logger.Info("using sqlite store", "dsn", dsn)
	return st
}

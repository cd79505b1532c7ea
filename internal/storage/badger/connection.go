// Package badger is the default storage adapter: a Badger/badgerhold-backed
// implementation of the vault, repository, and job-queue persistence
// boundaries. Grounded on the teacher's internal/storage/badger package
// (connection.go, manager.go, job_storage.go, auth_storage.go).
package badger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// DB wraps a single badgerhold store shared by all adapters in this
// package.
type DB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// Open opens (creating if necessary) the Badger database at path.
// resetOnStartup deletes any pre-existing database first, matching the
// teacher's BadgerConfig.ResetOnStartup escape hatch for clean test runs.
func Open(path string, resetOnStartup bool, logger arbor.ILogger) (*DB, error) {
	if resetOnStartup {
		if _, err := os.Stat(path); err == nil {
			logger.Debug().Str("path", path).Msg("deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(path); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("failed to delete database directory")
			}
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", path).Msg("badger database initialized")
	return &DB{store: store, logger: logger}, nil
}

// Store returns the underlying badgerhold store.
func (d *DB) Store() *badgerhold.Store { return d.store }

// Close closes the database connection.
func (d *DB) Close() error {
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}

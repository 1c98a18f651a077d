package store

import (
	"fmt"

	"github.com/xxxsen/notevault/internal/config"
	"github.com/xxxsen/notevault/internal/db"
	"github.com/xxxsen/notevault/internal/kvstore"
	"github.com/xxxsen/notevault/internal/repo"
)

var (
	_ Backend = (*repo.Store)(nil)
	_ Backend = (*kvstore.Store)(nil)
)

// Open builds the backend selected by cfg.Type. Postgres migrations are applied
// before the store is returned.
func Open(cfg config.StoreConfig) (Backend, error) {
	switch cfg.Type {
	case config.StoreTypePostgres:
		conn, err := db.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		if err := db.ApplyMigrations(conn); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return repo.NewStore(conn, cfg.Database.ConnString(), cfg.MaxBatchSize), nil
	case config.StoreTypeBadger:
		s, err := kvstore.Open(kvstore.Config{
			Path:         cfg.Badger.Path,
			InMemory:     cfg.Badger.InMemory,
			SyncWrites:   cfg.Badger.SyncWrites,
			MaxBatchSize: cfg.MaxBatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
}

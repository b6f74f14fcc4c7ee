package docstore

import (
	"context"
	"fmt"

	"github.com/aistatus/aistatus/internal/database"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects and configures a Store implementation.
type Config struct {
	Driver     string
	SQLitePath string
	Postgres   database.Config
}

// Open creates the configured store. Postgres and SQLite stores are migrated
// before being returned.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil

	case DriverPostgres:
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store := &PostgresStore{pool: pool, ownsPool: true}
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil

	case DriverSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "aistatus.db"
		}
		return OpenSQLite(ctx, path)

	default:
		return nil, fmt.Errorf("unknown docstore driver %q", cfg.Driver)
	}
}

package core

import (
	"fmt"
	"os"

	"genomeforge/internal/infra/persistence/memory"
	"genomeforge/internal/infra/persistence/postgres"
	"genomeforge/internal/infra/persistence/sqlite"
	"genomeforge/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// Environment variables read by OpenPersistentStore.
const (
	EnvStorageDriver = "GENOMEFORGE_STORAGE_DRIVER"
	EnvSQLitePath    = "GENOMEFORGE_SQLITE_PATH"
	EnvPostgresDSN   = "GENOMEFORGE_POSTGRES_DSN"
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	GENOMEFORGE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	GENOMEFORGE_SQLITE_PATH: path to sqlite file (default ./genomeforge.db)
//	GENOMEFORGE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *domain.RulesEngine, opts ...memory.Option) (PersistentStore, error) {
	driver := os.Getenv(EnvStorageDriver)
	if driver == "" {
		driver = string(StorageSQLite)
	}
	return OpenStorage(StorageDriver(driver), os.Getenv(EnvSQLitePath), os.Getenv(EnvPostgresDSN), engine, opts...)
}

// OpenStorage opens an explicit backend. path applies to sqlite, dsn to postgres.
func OpenStorage(driver StorageDriver, path, dsn string, engine *domain.RulesEngine, opts ...memory.Option) (PersistentStore, error) {
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine, opts...), nil
	case StorageSQLite, "":
		return sqlite.NewStore(path, engine, opts...)
	case StoragePostgres:
		return postgres.NewStore(dsn, engine, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

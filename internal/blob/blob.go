// Package blob selects an artifact store driver and re-exports the storage contract.
package blob

import (
	"context"
	"fmt"
	"os"

	"genomeforge/internal/blob/core"
	"genomeforge/internal/infra/blob/fs"
	memorystore "genomeforge/internal/infra/blob/memory"
	s3store "genomeforge/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend.
	Driver = core.Driver
	// PutOptions configures a write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes a stored artifact.
	Info = core.Info
	// Store is the artifact storage interface.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrExists      = core.ErrExists
	ErrNotFound    = core.ErrNotFound
	ErrInvalidKey  = core.ErrInvalidKey
)

// Environment variables consulted by Open.
const (
	EnvDriver = "GENOMEFORGE_BLOB_DRIVER"
	EnvFSRoot = "GENOMEFORGE_BLOB_FS_ROOT"
)

// Open selects a Store from the environment.
//
//	GENOMEFORGE_BLOB_DRIVER: fs|s3|memory (default fs)
//	GENOMEFORGE_BLOB_FS_ROOT: root directory for fs (default ./artifacts)
//	GENOMEFORGE_BLOB_S3_*: see s3.OpenFromEnv
func Open(ctx context.Context) (Store, error) {
	driver := Driver(os.Getenv(EnvDriver))
	if driver == "" {
		driver = DriverFilesystem
	}
	return OpenDriver(ctx, driver, os.Getenv(EnvFSRoot))
}

// Config selects a driver explicitly, as loaded from a config file.
type Config struct {
	Driver Driver         `yaml:"driver"`
	FSRoot string         `yaml:"fs_root"`
	S3     s3store.Config `yaml:"s3"`
}

// OpenConfig builds a store for cfg. An empty driver means fs.
func OpenConfig(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverS3:
		return s3store.New(ctx, cfg.S3)
	case "":
		return fs.New(cfg.FSRoot)
	default:
		return OpenDriver(ctx, cfg.Driver, cfg.FSRoot)
	}
}

// OpenDriver builds a store for an explicit driver. fsRoot only applies to the filesystem driver.
func OpenDriver(ctx context.Context, driver Driver, fsRoot string) (Store, error) {
	switch driver {
	case DriverFilesystem:
		return fs.New(fsRoot)
	case DriverS3:
		return s3store.OpenFromEnv(ctx)
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", driver)
	}
}

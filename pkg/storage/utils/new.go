// Package storageutils selects a storage driver from configuration.
package storageutils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/storage/inmemory"
	"github.com/papercomputeco/spool/pkg/storage/postgres"
	"github.com/papercomputeco/spool/pkg/storage/sqlite"
)

type NewDriverOpts struct {
	// ProviderType is one of "sqlite", "postgres" or "memory".
	ProviderType string

	SQLitePath  string
	PostgresDSN string
	Logger      *slog.Logger
}

func NewDriver(ctx context.Context, o *NewDriverOpts) (storage.Driver, error) {
	switch o.ProviderType {
	case "sqlite", "":
		if o.SQLitePath == "" {
			return nil, errors.New("sqlite path is required")
		}
		d, err := sqlite.NewSQLiteDriver(ctx, o.SQLitePath)
		if err != nil {
			return nil, err
		}
		o.Logger.Debug("using SQLite storage", "path", o.SQLitePath)
		return d, nil
	case "postgres", "postgresql":
		if o.PostgresDSN == "" {
			return nil, errors.New("postgres dsn is required")
		}
		d, err := postgres.NewDriver(ctx, o.PostgresDSN)
		if err != nil {
			return nil, err
		}
		o.Logger.Debug("using PostgreSQL storage")
		return d, nil
	case "memory", "inmemory":
		o.Logger.Warn("using in-memory storage; progress is lost on exit")
		return inmemory.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", o.ProviderType)
	}
}

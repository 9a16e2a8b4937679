// Package bootstrap wires configuration, path resolution and the migrated
// store together in the order the application needs them at startup.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/wallet-store/internal/config"
	"github.com/example/wallet-store/internal/hostpath"
	"github.com/example/wallet-store/internal/persistence/sqlite"
	"github.com/example/wallet-store/internal/persistence/sqlite/migration"
	"github.com/example/wallet-store/internal/persistence/sqlite/schema"
)

// HostFor picks the host that answers the storage location question.
// An explicit data directory wins over a helper command, which wins over the
// platform user config directory.
func HostFor(cfg config.Config) (hostpath.Host, error) {
	switch {
	case cfg.DataDir != "":
		return hostpath.StaticHost(cfg.DataDir), nil
	case len(cfg.HostCommand) > 0:
		return hostpath.NewCommandHost(cfg.HostCommand)
	default:
		return hostpath.UserDataHost{AppName: cfg.AppName}, nil
	}
}

// NewResolver builds the resolver for cfg.
func NewResolver(cfg config.Config, logger *slog.Logger) (*hostpath.Resolver, error) {
	host, err := HostFor(cfg)
	if err != nil {
		return nil, err
	}
	return hostpath.NewResolver(host,
		hostpath.WithTimeout(cfg.HostTimeout),
		hostpath.WithLogger(logger),
	), nil
}

// StorageConfig maps application settings onto the SQLite connection settings.
func StorageConfig(cfg config.Config) sqlite.Config {
	sc := sqlite.DefaultConfig()
	sc.BusyTimeout = cfg.BusyTimeout
	if cfg.JournalMode != "" {
		sc.JournalMode = cfg.JournalMode
	}
	return sc
}

// Open resolves the storage location and opens the database file inside it.
// The returned storage is not migrated.
func Open(ctx context.Context, cfg config.Config, resolver *hostpath.Resolver, logger *slog.Logger) (*sqlite.Storage, error) {
	location, err := resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	storage, err := sqlite.Open(location.Join(cfg.DatabaseFile), StorageConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return storage, nil
}

// Start opens the store and brings its schema up to date. Nothing else may
// use the store before Start returns successfully.
func Start(ctx context.Context, cfg config.Config, resolver *hostpath.Resolver, logger *slog.Logger, opts ...migration.Option) (*sqlite.Storage, []string, error) {
	storage, err := Open(ctx, cfg, resolver, logger)
	if err != nil {
		return nil, nil, err
	}

	applied, err := storage.Migrate(ctx, schema.Units(), opts...)
	if err != nil {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
		return nil, applied, err
	}
	logger.Info("storage ready", "path", storage.Path(), "applied_count", len(applied))
	return storage, applied, nil
}

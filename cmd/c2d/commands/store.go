package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/c2fleet/pkg/config"
	"github.com/openfroyo/c2fleet/pkg/fleet"
	"github.com/openfroyo/c2fleet/pkg/stores"
)

// backend is an opened persistence backend.
type backend struct {
	providers stores.Providers
	health    func(ctx context.Context) error
	close     func() error
}

// openBackend opens and migrates the configured store.
func openBackend(ctx context.Context, cfg config.StoreConfig) (*backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return &backend{
			providers: stores.NewMemoryStore().Providers(),
			close:     func() error { return nil },
		}, nil

	case config.DriverSQLite:
		store, err := stores.NewSQLiteStore(cfg.SQLite())
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		if err := store.Init(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return &backend{
			providers: store.Providers(),
			health:    store.HealthCheck,
			close:     store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// openFleet loads the configuration and returns a fleet service over the
// configured store. The caller must close the returned backend.
func openFleet(ctx context.Context) (*fleet.Service, *backend, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	b, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	svc, err := fleet.NewService(b.providers, fleet.WithLogger(log.Logger))
	if err != nil {
		_ = b.close()
		return nil, nil, err
	}
	return svc, b, nil
}

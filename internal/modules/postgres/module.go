package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/banmdev/ccxtbots/internal/ladderstore"
	"github.com/banmdev/ccxtbots/internal/modules/config"
	"github.com/banmdev/ccxtbots/pkg/db"
	"github.com/banmdev/ccxtbots/pkg/logger"
)

// Module поставляет хранилище моделей. Без DSN — память: бот работает,
// но лесенки не переживают рестарт.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config) (ladderstore.Store, error) {
				if cfg.DB == "" {
					logger.Warn("[STORE] no database dsn, ladder models will not survive restarts")
					return ladderstore.NewMemory(), nil
				}

				ctx := context.Background()
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN: cfg.DB,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}
				if err := poolMaster.Ping(ctx); err != nil {
					return nil, err
				}

				store := ladderstore.NewPG(db.NewPgTxManager(poolMaster))

				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						return store.EnsureSchema(ctx)
					},
					OnStop: func(_ context.Context) error {
						poolMaster.Close()
						return nil
					},
				})

				return store, nil
			},
		),
	)
}

package app

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/mongo"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// openStorage поднимает выбранное хранилище. Недоступная при старте база не
// останавливает сервис: заказы принимаются в деградированном режиме (store == nil).
// Ошибкой считается только сбой миграций, то есть несовместимая схема.
func (a *App) openStorage(ctx context.Context) (domain.OrderStore, domain.TimelineRepository, error) {
	logger := a.logger.WithField("storage", a.cfg.StorageDriver)

	switch a.cfg.StorageDriver {
	case StorageDriverMongo:
		store, err := mongo.Open(ctx, a.cfg.Mongo.URI, a.cfg.Mongo.Database)
		if err != nil {
			logger.WithError(err).Error("order store unavailable, accepting orders without persistence")
			return nil, nil, nil
		}
		a.addCloser("mongo", store.Close)
		logger.Info("order store connected")
		return mongo.NewOrderStore(store), mongo.NewTimelineRepository(store), nil

	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, a.cfg.Postgres.DSN)
		if err != nil {
			logger.WithError(err).Error("order store unavailable, accepting orders without persistence")
			return nil, nil, nil
		}
		a.addCloser("postgres", func(context.Context) error { return store.Close() })
		if a.cfg.Postgres.AutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return nil, nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("order store connected")
		return postgres.NewOrderStore(store), postgres.NewTimelineRepository(store), nil

	default:
		logger.Info("using in-memory order store")
		return memory.NewOrderStore(), memory.NewTimelineRepository(), nil
	}
}

package database

import (
	"context"
	"fmt"
	"log/slog"

	"slot-booking/config"
)

// Stores bundles the event and user stores of the configured backend.
// Users live in MongoDB when it is the backend and in the local JSON
// database otherwise.
type Stores struct {
	Events EventStore
	Users  UserStore
	close  []func(ctx context.Context) error
}

func (s *Stores) Close(ctx context.Context) error {
	var firstErr error
	for i := len(s.close) - 1; i >= 0; i-- {
		if err := s.close[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Stores, error) {
	stores := &Stores{}

	if cfg.StoreBackend == config.BackendMongo {
		client, err := DBInit(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, err
		}
		mongoStore := NewMongoStore(client, cfg.Mongo.Database)
		if err := mongoStore.Migrate(ctx); err != nil {
			_ = mongoStore.Close(context.Background())
			return nil, err
		}
		stores.Events = mongoStore
		stores.Users = mongoStore
		stores.close = append(stores.close, mongoStore.Close)
		log.Info("connected to mongodb", "database", cfg.Mongo.Database)
		return stores, nil
	}

	local, err := OpenLocalStore(cfg.LocalDBPath)
	if err != nil {
		return nil, err
	}
	stores.Events = local
	stores.Users = local

	switch cfg.StoreBackend {
	case config.BackendRedis:
		redisStore, err := NewRedisStore(ctx, NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB))
		if err != nil {
			return nil, err
		}
		stores.Events = redisStore
		stores.close = append(stores.close, func(context.Context) error { return redisStore.Close() })
		log.Info("connected to redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)

	case config.BackendPostgres:
		pool, err := NewPool(ctx, cfg.Postgres.DSN(), log)
		if err != nil {
			return nil, err
		}
		pgStore := NewPostgresStore(pool)
		if err := pgStore.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		stores.Events = pgStore
		stores.close = append(stores.close, func(context.Context) error { pgStore.Close(); return nil })
		log.Info("connected to postgres",
			"host", cfg.Postgres.Host,
			"port", cfg.Postgres.Port,
			"database", cfg.Postgres.DBName,
		)

	case config.BackendMemory:
		log.Info("using local database", "path", cfg.LocalDBPath)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	return stores, nil
}

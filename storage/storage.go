// Package storage opens the store backend named by the configuration.
package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/core/session"
	"github.com/trezcool/edusmart/storage/database"
	"github.com/trezcool/edusmart/storage/realtime"
	"github.com/trezcool/edusmart/storage/realtime/inmem"
	"github.com/trezcool/edusmart/storage/realtime/pgstore"
	"github.com/trezcool/edusmart/storage/realtime/redisstore"
	"github.com/trezcool/edusmart/storage/redisdb"
	"github.com/trezcool/edusmart/storage/session/inmem"
	"github.com/trezcool/edusmart/storage/session/redissession"
)

// Storage holds the store and the connections behind it. Redis and DB are nil unless the backend
// uses them.
type Storage struct {
	Store *realtime.Store
	Redis *redis.Client
	DB    *sqlx.DB
}

// Open connects to the configured backend. The postgres backend creates and migrates its database
// when migrate is set.
func Open(ctx context.Context, conf *core.Config, logger core.Logger, migrate bool) (*Storage, error) {
	switch conf.Store.Backend {
	case core.StoreMemory:
		return &Storage{Store: inmem.NewStore(logger)}, nil

	case core.StoreRedis:
		client, err := redisdb.Open(ctx, conf)
		if err != nil {
			return nil, err
		}
		store, err := redisstore.NewStore(context.Background(), client, conf.Redis.Prefix, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &Storage{Store: store, Redis: client}, nil

	case core.StorePostgres:
		if migrate {
			if err := database.CreateIfNotExist(ctx, conf); err != nil {
				return nil, err
			}
		}
		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err = database.Migrate(ctx, db.DB, "up"); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		store, err := pgstore.NewStore(db, database.URL(conf), logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Storage{Store: store, DB: db}, nil
	}
	return nil, errors.Errorf("unknown store backend %q", conf.Store.Backend)
}

// SessionRepository keeps sessions in redis when the store runs on it, in memory otherwise.
func (st *Storage) SessionRepository(conf *core.Config) session.Repository {
	if st.Redis != nil {
		return redissession.NewRepository(st.Redis, conf.Redis.Prefix)
	}
	return inmemsession.NewRepository()
}

func (st *Storage) Close() error {
	err := st.Store.Close()
	if st.Redis != nil {
		if rerr := st.Redis.Close(); err == nil {
			err = rerr
		}
	}
	if st.DB != nil {
		if derr := st.DB.Close(); err == nil {
			err = derr
		}
	}
	return err
}

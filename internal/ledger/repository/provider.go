package repository

import (
	"context"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/chainstream/internal/config"
	"github.com/smallbiznis/chainstream/internal/ledger/domain"
	"github.com/smallbiznis/chainstream/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Provide builds the store selected by LEDGER_STORE and closes it on stop.
func Provide(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (domain.Store, error) {
	store, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	log.Named("ledger.store").Info("ledger store ready", zap.String("store", cfg.LedgerStore))

	if closer, ok := store.(io.Closer); ok {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return closer.Close()
			},
		})
	}
	return store, nil
}

func Open(cfg config.Config) (domain.Store, error) {
	switch cfg.LedgerStore {
	case config.LedgerStoreMemory:
		return NewMemoryStore(), nil
	case config.LedgerStoreRedis:
		return NewRedisStore(redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})), nil
	case config.LedgerStoreSQL:
		conn, err := db.Open(cfg)
		if err != nil {
			return nil, err
		}
		return NewSQLStore(conn)
	default:
		return NewBoltStore(cfg.BoltPath)
	}
}

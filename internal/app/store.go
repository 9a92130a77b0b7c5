package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/dealpick/internal/cache"
	"github.com/hitoshi/dealpick/internal/cache/leveldb"
	"github.com/hitoshi/dealpick/internal/cache/memory"
	"github.com/hitoshi/dealpick/internal/cache/postgres"
	"github.com/hitoshi/dealpick/internal/cache/redis"
	"github.com/hitoshi/dealpick/internal/config"
	"github.com/hitoshi/dealpick/internal/database"
)

// storePingTimeout は起動時の保存先への疎通確認のタイムアウト。
const storePingTimeout = 5 * time.Second

// openStore は設定されたバックエンドのキャッシュストアを開く。
func openStore(cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case "leveldb":
		s, err := leveldb.Open(cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		return s, nil

	case "redis":
		s := redis.New(redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), storePingTimeout)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return s, nil

	case "postgres":
		db, err := database.Open(cfg.DatabaseURL, database.DefaultPool)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s := postgres.New(db)
		ctx, cancel := context.WithTimeout(context.Background(), storePingTimeout)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return s, nil

	default:
		return memory.New(uint64(cfg.MemoryCapacity)), nil
	}
}

// Package redis はRedisにキャッシュを保持するStoreを提供する。
// 複数インスタンスで同じキャッシュを共有する場合に使う。
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Options はRedisへの接続設定。
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Store はRedisによるキャッシュストア。有効期限はRedisのキー期限で管理する。
type Store struct {
	client *goredis.Client
}

// New はRedisクライアントを生成する。接続は最初のコマンド実行時に確立される。
func New(opts Options) *Store {
	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &Store{client: client}
}

// Ping はRedisへの疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Match はキーに対応する値を返す。
func (s *Store) Match(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Put はキーに値を ttl 付きで保存する。
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Close はRedisとの接続を閉じる。
func (s *Store) Close() error {
	return s.client.Close()
}

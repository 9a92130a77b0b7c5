// Package postgres はPostgreSQLの cache_entries テーブルにキャッシュを保持するStoreを提供する。
// テーブルは database パッケージのマイグレーションで作成する。
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	matchQuery = `SELECT value FROM cache_entries WHERE key = $1 AND expires_at > $2`
	putQuery   = `INSERT INTO cache_entries (key, value, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`
	sweepQuery = `DELETE FROM cache_entries WHERE expires_at <= $1`
)

// Store はPostgreSQLによるキャッシュストア。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New はStoreを生成する。db の所有権はStoreに移り、Closeで閉じられる。
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Match はキーに対応する有効期限内の値を返す。
func (s *Store) Match(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, matchQuery, key, s.now()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query cache entry: %w", err)
	}
	return value, true, nil
}

// Put はキーに値を ttl 付きで保存する。既存のエントリは上書きする。
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := s.db.ExecContext(ctx, putQuery, key, value, s.now().Add(ttl)); err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

// Sweep は期限切れのエントリを削除し、削除件数を返す。
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, sweepQuery, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	return deleted, nil
}

// Ping はデータベースへの疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

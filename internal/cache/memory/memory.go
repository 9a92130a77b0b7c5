// Package memory はプロセス内メモリにキャッシュを保持するStoreを提供する。
package memory

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Store はttlcacheによるインメモリのキャッシュストア。
// 容量を超えた場合は最も古く参照されたエントリから追い出す。
type Store struct {
	items *ttlcache.Cache[string, []byte]
}

// New は最大 capacity 件を保持するStoreを生成し、期限切れエントリの自動削除を開始する。
func New(capacity uint64) *Store {
	items := ttlcache.New[string, []byte](
		ttlcache.WithCapacity[string, []byte](capacity),
		// 参照で有効期限を延ばさない
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go items.Start()
	return &Store{items: items}
}

// Match はキーに対応する値を返す。期限切れのエントリは見つからないものとして扱う。
func (s *Store) Match(_ context.Context, key string) ([]byte, bool, error) {
	item := s.items.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

// Put はキーに値を ttl 付きで保存する。
func (s *Store) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.items.Set(key, stored, ttl)
	return nil
}

// Len は保持しているエントリ数を返す。
func (s *Store) Len() int {
	return s.items.Len()
}

// Close は期限切れエントリの自動削除を停止する。
func (s *Store) Close() error {
	s.items.Stop()
	return nil
}

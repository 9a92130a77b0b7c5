// Package leveldb はLevelDBにキャッシュを永続化するStoreを提供する。
// プロセスを再起動してもTTL内のエントリは有効なまま残る。
package leveldb

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	goleveldb "github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const entryPrefix = "e:"

// entry はディスク上のエントリ。ExpiresAt はUnixナノ秒。
type entry struct {
	Value     []byte
	ExpiresAt int64
}

// Store はLevelDBによるキャッシュストア。
type Store struct {
	db  *goleveldb.DB
	now func() time.Time
}

// Open は path のLevelDBを開く。存在しない場合は作成する。
func Open(path string) (*Store, error) {
	db, err := goleveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Match はキーに対応する値を返す。期限切れのエントリは削除してミスとして扱う。
func (s *Store) Match(_ context.Context, key string) ([]byte, bool, error) {
	b, err := s.db.Get([]byte(entryPrefix+key), nil)
	if errors.Is(err, goleveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var ent entry
	if err := decodeGob(b, &ent); err != nil {
		return nil, false, fmt.Errorf("decode entry: %w", err)
	}
	if s.now().UnixNano() >= ent.ExpiresAt {
		_ = s.db.Delete([]byte(entryPrefix+key), nil)
		return nil, false, nil
	}
	return ent.Value, true, nil
}

// Put はキーに値を ttl 付きで保存する。
func (s *Store) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b, err := encodeGob(entry{Value: value, ExpiresAt: s.now().Add(ttl).UnixNano()})
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return s.db.Put([]byte(entryPrefix+key), b, nil)
}

// Sweep は期限切れのエントリをまとめて削除し、削除件数を返す。
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(entryPrefix)), nil)
	defer it.Release()

	now := s.now().UnixNano()
	batch := new(goleveldb.Batch)
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		var ent entry
		if err := decodeGob(it.Value(), &ent); err != nil || now >= ent.ExpiresAt {
			batch.Delete(bytes.Clone(it.Key()))
		}
	}
	if err := it.Error(); err != nil {
		return 0, err
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0, err
	}
	return int64(batch.Len()), nil
}

// Close はLevelDBを閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

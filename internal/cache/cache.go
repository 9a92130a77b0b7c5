// Package cache は上流APIの取得結果をキャッシュするための共通処理を提供する。
// キャッシュの保存先はStoreインターフェースで差し替えられる。
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Store はキャッシュの保存先。有効期限の管理はStore側が行い、
// 期限切れのエントリはMatchで見つからないものとして扱われる。
type Store interface {
	// Match はキーに対応する値を返す。存在しない場合は ok=false。
	Match(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Put はキーに値を保存する。ttl 経過後は参照できなくなる。
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Close は保存先との接続を閉じる。
	Close() error
}

// Key はサービスの公開オリジンと上流URLからキャッシュキーを生成する。
func Key(origin, upstreamURL string) string {
	return strings.TrimRight(origin, "/") + "/cache/" + url.QueryEscape(upstreamURL)
}

// Fingerprint はログ出力用のキーの短いハッシュを返す。
// キーにはAPIキーを含むURLが入るため、キーそのものはログに出さない。
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}

// Resolve はキャッシュにヒットすればその値を返し、なければ produce を呼び出す。
// produce が成功した場合だけ結果をJSONとして ttl 付きで保存する。
// 2番目の戻り値はキャッシュから返したかどうか。
//
// キャッシュの読み込み失敗や復元できない値はミスとして扱い、
// 保存の失敗はログに残すだけでリクエストは失敗させない。
func Resolve[T any](ctx context.Context, store Store, key string, ttl time.Duration, produce func(context.Context) (T, error)) (T, bool, error) {
	data, ok, err := store.Match(ctx, key)
	switch {
	case err != nil:
		slog.Warn("キャッシュの読み込みに失敗しました",
			slog.String("key_hash", Fingerprint(key)),
			slog.String("error", err.Error()),
		)
	case ok:
		var v T
		err := json.Unmarshal(data, &v)
		if err == nil {
			return v, true, nil
		}
		slog.Warn("キャッシュの値を復元できないためミスとして扱います",
			slog.String("key_hash", Fingerprint(key)),
			slog.String("error", err.Error()),
		)
	}

	v, err := produce(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}

	if ttl <= 0 {
		return v, false, nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		slog.Warn("キャッシュする値のエンコードに失敗しました",
			slog.String("key_hash", Fingerprint(key)),
			slog.String("error", err.Error()),
		)
		return v, false, nil
	}
	if err := store.Put(ctx, key, encoded, ttl); err != nil {
		slog.Warn("キャッシュの書き込みに失敗しました",
			slog.String("key_hash", Fingerprint(key)),
			slog.String("error", err.Error()),
		)
	}
	return v, false, nil
}

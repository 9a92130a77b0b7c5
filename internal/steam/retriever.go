// Package steam はSteam Web APIからユーザーの所有ゲーム一覧を取得する。
package steam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/dealpick/internal/cache"
	"github.com/hitoshi/dealpick/internal/config"
	"github.com/hitoshi/dealpick/internal/metrics"
	"github.com/hitoshi/dealpick/internal/model"
	"github.com/hitoshi/dealpick/internal/upstream"
)

const (
	// Source はキャッシュ参照のメトリクスで使う取得元名。
	Source = "steam"
	// upstreamName は上流クライアントとメトリクスで使う上流名。
	upstreamName = "steam"
)

// ownedGamesResponse は IPlayerService/GetOwnedGames のレスポンス。
// 非公開プロフィールでは games が含まれない。
type ownedGamesResponse struct {
	Response struct {
		Games json.RawMessage `json:"games"`
	} `json:"response"`
}

type ownedGame struct {
	AppID int `json:"appid"`
}

// Retriever はSteamの所有ゲーム一覧をキャッシュ経由で取得する。
type Retriever struct {
	client   upstream.Getter
	store    cache.Store
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	endpoint string
	apiKey   string
	ttl      config.SteamTTL
}

// NewRetriever はRetrieverの新しいインスタンスを生成する。
func NewRetriever(client upstream.Getter, store cache.Store, m metrics.MetricsCollector, logger *slog.Logger, endpoint, apiKey string, ttl config.SteamTTL) *Retriever {
	return &Retriever{
		client:   client,
		store:    store,
		metrics:  m,
		logger:   logger,
		endpoint: endpoint,
		apiKey:   apiKey,
		ttl:      ttl,
	}
}

// TTLFor はSteam IDに適用するキャッシュ有効期間を返す。
func (r *Retriever) TTLFor(steamID string) time.Duration {
	return r.ttl.For(steamID)
}

// URL はSteam IDに対するリクエストURLを組み立てる。URLにはAPIキーが含まれる。
func (r *Retriever) URL(steamID string) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid steam endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", r.apiKey)
	q.Set("steamid", steamID)
	q.Set("format", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch はユーザーが所有するアプリIDの集合を返す。2番目の戻り値はキャッシュから返したかどうか。
// ライブラリが非公開の場合は KindAccessDenied、それ以外の失敗は KindUnavailable の
// *model.UpstreamError を返す。失敗した結果はキャッシュしない。
func (r *Retriever) Fetch(ctx context.Context, steamID, origin string) (model.OwnershipSet, bool, error) {
	reqURL, err := r.URL(steamID)
	if err != nil {
		return nil, false, model.NewUnavailableError(0, "invalid endpoint", err)
	}

	owned, hit, err := cache.Resolve(ctx, r.store, cache.Key(origin, reqURL), r.TTLFor(steamID),
		func(ctx context.Context) (model.OwnershipSet, error) {
			return r.fetch(ctx, reqURL)
		})
	r.metrics.RecordCacheLookup(Source, hit)
	if err != nil {
		return nil, false, err
	}
	return owned, hit, nil
}

func (r *Retriever) fetch(ctx context.Context, reqURL string) (model.OwnershipSet, error) {
	resp, err := r.client.Get(ctx, upstreamName, reqURL)
	if err != nil {
		return nil, model.NewUnavailableError(0, "request failed", err)
	}

	if resp.StatusCode == http.StatusForbidden {
		r.logger.Warn("Steamライブラリへのアクセスが拒否されました",
			slog.String("upstream", upstreamName),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewAccessDeniedError(resp.StatusCode, resp.Reason)
	}
	if !resp.OK() {
		r.logger.Error("Steam APIがエラーステータスを返しました",
			slog.String("upstream", upstreamName),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewUnavailableError(resp.StatusCode, resp.Reason, nil)
	}

	var body ownedGamesResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		r.logger.Error("Steam APIのレスポンスのパースに失敗しました",
			slog.String("upstream", upstreamName),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUnavailableError(0, "invalid response", err)
	}

	games := bytes.TrimSpace(body.Response.Games)
	if len(games) == 0 || games[0] != '[' {
		// プロフィールまたはゲーム詳細が非公開
		return nil, model.NewAccessDeniedError(resp.StatusCode, resp.Reason)
	}

	var list []ownedGame
	if err := json.Unmarshal(games, &list); err != nil {
		return nil, model.NewUnavailableError(0, "invalid response", err)
	}

	owned := make(model.OwnershipSet, len(list))
	for _, g := range list {
		owned[g.AppID] = struct{}{}
	}
	return owned, nil
}

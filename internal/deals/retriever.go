// Package deals はCheapSharkからセール一覧を取得する。
// 取得結果はリクエスト条件ごとのURLをキーにキャッシュする。
package deals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/dealpick/internal/cache"
	"github.com/hitoshi/dealpick/internal/metrics"
	"github.com/hitoshi/dealpick/internal/model"
	"github.com/hitoshi/dealpick/internal/upstream"
)

const (
	// Source はキャッシュ参照のメトリクスで使う取得元名。
	Source = "deals"
	// upstreamName は上流クライアントとメトリクスで使う上流名。
	upstreamName = "cheapshark"
	// pageSize は1回の取得で要求するセール件数。
	pageSize = 100
)

// Retriever はCheapSharkのセール一覧をキャッシュ経由で取得する。
type Retriever struct {
	client   upstream.Getter
	store    cache.Store
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	endpoint string
}

// NewRetriever はRetrieverの新しいインスタンスを生成する。
func NewRetriever(client upstream.Getter, store cache.Store, m metrics.MetricsCollector, logger *slog.Logger, endpoint string) *Retriever {
	return &Retriever{
		client:   client,
		store:    store,
		metrics:  m,
		logger:   logger,
		endpoint: endpoint,
	}
}

// URL は絞り込み条件からCheapSharkのリクエストURLを組み立てる。
// 同じ条件からは常に同じURLが得られる。
func (r *Retriever) URL(f model.DealFilterParams) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid deals endpoint: %w", err)
	}

	ids := make([]string, 0, len(f.StoreIDs))
	for _, id := range f.StoreIDs {
		ids = append(ids, strconv.Itoa(id))
	}

	q := u.Query()
	q.Set("storeID", strings.Join(ids, ","))
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("maxAge", f.MaxAgeHours)
	q.Set("metacritic", f.MinMetacritic)
	q.Set("steamRating", f.MinSteamRating)
	q.Set("upperPrice", f.MaxPrice)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Fetch は条件に合うセール一覧を返す。2番目の戻り値はキャッシュから返したかどうか。
// 失敗した場合は *model.UpstreamError（KindDealsError）を返し、キャッシュには書き込まない。
func (r *Retriever) Fetch(ctx context.Context, f model.DealFilterParams, origin string, ttl time.Duration) ([]model.Deal, bool, error) {
	reqURL, err := r.URL(f)
	if err != nil {
		return nil, false, model.NewDealsError(0, "invalid endpoint", err)
	}

	deals, hit, err := cache.Resolve(ctx, r.store, cache.Key(origin, reqURL), ttl,
		func(ctx context.Context) ([]model.Deal, error) {
			return r.fetch(ctx, reqURL)
		})
	r.metrics.RecordCacheLookup(Source, hit)
	if err != nil {
		return nil, false, err
	}
	return deals, hit, nil
}

func (r *Retriever) fetch(ctx context.Context, reqURL string) ([]model.Deal, error) {
	resp, err := r.client.Get(ctx, upstreamName, reqURL)
	if err != nil {
		return nil, model.NewDealsError(0, "request failed", err)
	}

	if !resp.OK() {
		r.logger.Error("CheapSharkがエラーステータスを返しました",
			slog.String("upstream", upstreamName),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewDealsError(resp.StatusCode, resp.Reason, nil)
	}

	var deals []model.Deal
	if err := json.Unmarshal(resp.Body, &deals); err != nil {
		r.logger.Error("CheapSharkのレスポンスのパースに失敗しました",
			slog.String("upstream", upstreamName),
			slog.String("error", err.Error()),
		)
		return nil, model.NewDealsError(0, "invalid response", err)
	}
	if deals == nil {
		deals = []model.Deal{}
	}

	return deals, nil
}

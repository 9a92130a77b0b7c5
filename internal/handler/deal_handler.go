package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/dealpick/internal/intent"
	"github.com/hitoshi/dealpick/internal/metrics"
	"github.com/hitoshi/dealpick/internal/middleware"
	"github.com/hitoshi/dealpick/internal/model"
	"github.com/hitoshi/dealpick/internal/selector"
)

// HeaderCache はキャッシュのヒット状況を返すレスポンスヘッダ。
const HeaderCache = "X-Dealpick-Cache"

const (
	msgMissingIdentity = "Missing steamId. Provide it via the X-Steam-Id header, a JSON body field, or the steamId query parameter."
	msgAccessDenied    = `Steam library is not accessible. Make sure the profile and "Game details" are set to Public.`
	msgUpstreamFailed  = "Upstream request failed."
)

// DealsFetcher はセール一覧の取得元。
type DealsFetcher interface {
	// Fetch は絞り込み条件に合うセール一覧と、キャッシュから返したかどうかを返す。
	Fetch(ctx context.Context, f model.DealFilterParams, origin string, ttl time.Duration) ([]model.Deal, bool, error)
}

// LibraryFetcher はユーザーの所有ゲーム一覧の取得元。
type LibraryFetcher interface {
	// TTLFor はSteam IDごとのキャッシュ有効期間を返す。
	TTLFor(steamID string) time.Duration
	// Fetch は所有ゲームのappid集合と、キャッシュから返したかどうかを返す。
	Fetch(ctx context.Context, steamID, origin string) (model.OwnershipSet, bool, error)
}

// DealHandlerConfig はDealHandlerの設定。
type DealHandlerConfig struct {
	// DealsTTL はセール一覧のキャッシュ有効期間。
	DealsTTL time.Duration
	// PublicOrigin はキャッシュキーに使う公開オリジン。空の場合はリクエストから求める。
	PublicOrigin string
}

// DealHandler は未所有のセール中ゲームを1件選んで返すHTTPハンドラー。
type DealHandler struct {
	deals   DealsFetcher
	library LibraryFetcher
	metrics metrics.MetricsCollector
	rng     selector.Rand
	config  DealHandlerConfig
}

// NewDealHandler はDealHandlerを生成する。rng が nil の場合は selector.DefaultRand を使う。
func NewDealHandler(deals DealsFetcher, library LibraryFetcher, m metrics.MetricsCollector, rng selector.Rand, config DealHandlerConfig) *DealHandler {
	if rng == nil {
		rng = selector.DefaultRand
	}
	return &DealHandler{
		deals:   deals,
		library: library,
		metrics: m,
		rng:     rng,
		config:  config,
	}
}

// ServeDeal はリクエストを解決し、未所有のセールを1件返す。
// GET|POST|PUT|PATCH / および /api/deal
func (h *DealHandler) ServeDeal(w http.ResponseWriter, r *http.Request) {
	in := intent.Resolve(r)

	// TTLは上流へのリクエスト前に確定させ、エラー時も返す
	meta := model.ResponseMeta{
		Cache: model.CacheTTLs{
			Deals: int(h.config.DealsTTL / time.Second),
			Steam: int(h.library.TTLFor(in.SteamID) / time.Second),
		},
		Params: in.Echo(),
	}

	if !in.HasIdentity() {
		slog.Warn("rejected deal request",
			slog.String("error", model.ErrMissingIdentity.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		h.metrics.RecordDealResponse(metrics.OutcomeMissingID)
		middleware.WriteEnvelope(w, http.StatusBadRequest, model.ResponseEnvelope{
			Error: msgMissingIdentity,
			Meta:  meta,
		})
		return
	}

	origin := h.servingOrigin(r)

	var (
		deals              []model.Deal
		owned              model.OwnershipSet
		dealsHit, steamHit bool
		dealsErr, steamErr error
	)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		deals, dealsHit, dealsErr = h.deals.Fetch(ctx, in.Filters, origin, h.config.DealsTTL)
		return dealsErr
	})
	g.Go(func() error {
		owned, steamHit, steamErr = h.library.Fetch(ctx, in.SteamID, origin)
		return steamErr
	})

	if g.Wait() != nil {
		err := pickError(dealsErr, steamErr)
		status, message, outcome := errorResponse(err)

		slog.Warn("failed to resolve deal",
			slog.Int("status", status),
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)

		h.metrics.RecordDealResponse(outcome)
		middleware.WriteEnvelope(w, status, model.ResponseEnvelope{
			Error: message,
			Meta:  meta,
		})
		return
	}

	deal, filtered := selector.Select(deals, owned, in.Filters, h.rng)

	meta.CacheHits = &model.CacheHits{Deals: dealsHit, Steam: steamHit}
	meta.Counts = &model.Counts{
		Total:    len(deals),
		Filtered: filtered,
		Owned:    len(owned),
	}

	if deal != nil {
		h.metrics.RecordDealResponse(metrics.OutcomeDeal)
	} else {
		h.metrics.RecordDealResponse(metrics.OutcomeNoMatch)
	}

	w.Header().Set(HeaderCache, cacheHeader(dealsHit, steamHit))
	middleware.WriteEnvelope(w, http.StatusOK, model.ResponseEnvelope{
		Deal: deal,
		Meta: meta,
	})
}

// servingOrigin はキャッシュキーの名前空間に使うオリジンを返す。
func (h *DealHandler) servingOrigin(r *http.Request) string {
	if h.config.PublicOrigin != "" {
		return h.config.PublicOrigin
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	switch proto := r.Header.Get("X-Forwarded-Proto"); proto {
	case "http", "https":
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// pickError は並行取得で発生したエラーから、クライアントに返す1件を選ぶ。
// 片方の失敗によるもう片方のキャンセルは報告しない。
// 優先順位はアクセス拒否、セール取得エラー、ライブラリ取得エラーの順。
func pickError(errs ...error) error {
	var candidates []error
	var canceled error
	for _, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			canceled = err
		default:
			candidates = append(candidates, err)
		}
	}
	if len(candidates) == 0 {
		return canceled
	}

	best := candidates[0]
	for _, err := range candidates[1:] {
		if errorRank(err) > errorRank(best) {
			best = err
		}
	}
	return best
}

func errorRank(err error) int {
	var ue *model.UpstreamError
	if !errors.As(err, &ue) {
		return 0
	}
	switch ue.Kind {
	case model.KindAccessDenied:
		return 3
	case model.KindDealsError:
		return 2
	case model.KindUnavailable:
		return 1
	default:
		return 0
	}
}

// errorResponse はエラーをHTTPステータス、メッセージ、メトリクスの結果種別に変換する。
func errorResponse(err error) (int, string, string) {
	var ue *model.UpstreamError
	if errors.As(err, &ue) {
		switch ue.Kind {
		case model.KindAccessDenied:
			return http.StatusForbidden, msgAccessDenied, metrics.OutcomeAccessDenied
		case model.KindDealsError:
			return http.StatusBadGateway, "CheapShark error: " + statusText(ue), metrics.OutcomeUpstreamError
		case model.KindUnavailable:
			return http.StatusBadGateway, "Steam library unavailable: " + statusText(ue), metrics.OutcomeUpstreamError
		}
	}
	return http.StatusBadGateway, msgUpstreamFailed, metrics.OutcomeUpstreamError
}

func statusText(ue *model.UpstreamError) string {
	if ue.Status > 0 {
		return fmt.Sprintf("%d %s", ue.Status, ue.Reason)
	}
	return ue.Reason
}

func cacheHeader(dealsHit, steamHit bool) string {
	return "deals=" + hitText(dealsHit) + "; steam=" + hitText(steamHit)
}

func hitText(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

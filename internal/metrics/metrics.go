// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 上流クライアント、取得処理、ハンドラから利用する。
type MetricsCollector interface {
	RecordCacheLookup(source string, hit bool)
	RecordUpstreamRequest(upstream string, statusCode int, duration time.Duration)
	RecordDealResponse(outcome string)
}

// レスポンス結果のラベル値。
const (
	OutcomeDeal          = "deal"
	OutcomeNoMatch       = "no_match"
	OutcomeMissingID     = "missing_identity"
	OutcomeAccessDenied  = "access_denied"
	OutcomeUpstreamError = "upstream_error"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cacheLookups     *prometheus.CounterVec
	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	dealResponses    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealpick_cache_lookups_total",
			Help: "取得元別のキャッシュ参照数（hit/miss）",
		}, []string{"source", "result"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealpick_upstream_requests_total",
			Help: "上流API別・HTTPステータスコード別のリクエスト数",
		}, []string{"upstream", "status_code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dealpick_upstream_latency_seconds",
			Help:    "上流APIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream"}),
		dealResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealpick_deal_responses_total",
			Help: "結果別のセール選択レスポンス数",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.cacheLookups,
		c.upstreamRequests,
		c.upstreamLatency,
		c.dealResponses,
	)

	return c
}

// RecordCacheLookup はキャッシュ参照の結果を記録する。
func (c *Collector) RecordCacheLookup(source string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(source, result).Inc()
}

// RecordUpstreamRequest は上流APIへのリクエスト結果とレイテンシを記録する。
// statusCode が0の場合はレスポンスを受け取れなかったことを示す。
func (c *Collector) RecordUpstreamRequest(upstream string, statusCode int, duration time.Duration) {
	code := strconv.Itoa(statusCode)
	if statusCode == 0 {
		code = "error"
	}
	c.upstreamRequests.WithLabelValues(upstream, code).Inc()
	c.upstreamLatency.WithLabelValues(upstream).Observe(duration.Seconds())
}

// RecordDealResponse はレスポンスの結果を記録する。
func (c *Collector) RecordDealResponse(outcome string) {
	c.dealResponses.WithLabelValues(outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

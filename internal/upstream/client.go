// Package upstream は上流APIへのGETリクエストを共通化する。
// 上流ごとのリクエスト間隔制御、User-Agent付与、レスポンスサイズ制限、
// メトリクス記録を行う。
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	applog "github.com/hitoshi/dealpick/internal/logger"
	"github.com/hitoshi/dealpick/internal/metrics"
)

// UserAgent は上流APIへのリクエストに付与するUser-Agent。
const UserAgent = "dealpick/1.0 (+https://github.com/hitoshi/dealpick)"

// ErrBodyTooLarge はレスポンスボディが上限を超えたことを表す。
var ErrBodyTooLarge = errors.New("upstream response body too large")

// Response は上流APIのレスポンス。
type Response struct {
	StatusCode int
	Reason     string
	Body       []byte
}

// OK はステータスコードが2xxかを返す。
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Getter は上流APIへのGETリクエストを抽象化するインターフェース。
type Getter interface {
	Get(ctx context.Context, upstream, rawURL string) (*Response, error)
}

// Config はClientの設定。
type Config struct {
	RatePerSec float64
	MaxBody    int64
}

// Client は上流APIのHTTPクライアント。
// 上流名ごとにトークンバケットで送信間隔を制御する。
type Client struct {
	httpClient *http.Client
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	config     Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, m metrics.MetricsCollector, logger *slog.Logger, config Config) *Client {
	return &Client{
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
		config:     config,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// limiter は上流名に対応するリミッターを返す。存在しなければ作成する。
func (c *Client) limiter(upstream string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[upstream]
	if !ok {
		burst := int(c.config.RatePerSec * 2)
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(c.config.RatePerSec), burst)
		c.limiters[upstream] = l
	}
	return l
}

// Get は上流APIにGETリクエストを送る。
// 2xx以外のステータスもエラーにはせず、判断は呼び出し元に委ねる。
// エラーを返すのはレスポンスを受け取れなかった場合とボディの読み取りに失敗した場合だけ。
func (c *Client) Get(ctx context.Context, upstream, rawURL string) (*Response, error) {
	if err := c.limiter(upstream).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// *url.Error はリクエストURLをそのまま保持するため、APIキーを伏せてから扱う
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = applog.RedactURL(ue.URL)
		}
		duration := time.Since(start)
		c.metrics.RecordUpstreamRequest(upstream, 0, duration)
		c.logger.Error("上流APIへのリクエストに失敗しました",
			slog.String("upstream", upstream),
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", duration.Milliseconds()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBody+1))
	duration := time.Since(start)
	c.metrics.RecordUpstreamRequest(upstream, resp.StatusCode, duration)
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("upstream", upstream),
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > c.config.MaxBody {
		c.logger.Error("レスポンスボディが上限を超えました",
			slog.String("upstream", upstream),
			slog.String("url", rawURL),
			slog.Int64("max_body", c.config.MaxBody),
		)
		return nil, ErrBodyTooLarge
	}

	c.logger.Debug("上流APIレスポンスを受信しました",
		slog.String("upstream", upstream),
		slog.String("url", rawURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Reason:     ReasonText(resp),
		Body:       body,
	}, nil
}

// ReasonText はステータス行の理由句を返す。
// 上流が理由句を返さない場合は標準の理由句で補う。
func ReasonText(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, code))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}

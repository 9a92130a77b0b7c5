package steam

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/dealpick/internal/cache/memory"
	"github.com/hitoshi/dealpick/internal/config"
	applog "github.com/hitoshi/dealpick/internal/logger"
	"github.com/hitoshi/dealpick/internal/metrics"
	"github.com/hitoshi/dealpick/internal/model"
	"github.com/hitoshi/dealpick/internal/upstream"
)

const testSteamID = "76561197960287930"

func newTestRetriever(t *testing.T, server *httptest.Server, ttl config.SteamTTL) (*Retriever, *memory.Store) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	m := metrics.NewCollector(prometheus.NewRegistry())
	client := upstream.NewClient(server.Client(), m, logger, upstream.Config{RatePerSec: 100, MaxBody: 1 << 20})
	store := memory.New(100)
	t.Cleanup(func() { store.Close() })
	return NewRetriever(client, store, m, logger, server.URL+"/IPlayerService/GetOwnedGames/v1/", "test-key", ttl), store
}

func defaultTTL() config.SteamTTL {
	return config.SteamTTL{Default: time.Hour}
}

// TestFetch_ReturnsOwnedAppIDs は所有ゲームのアプリID集合を返すことを検証する。
func TestFetch_ReturnsOwnedAppIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "test-key" || q.Get("steamid") != testSteamID || q.Get("format") != "json" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"response":{"game_count":2,"games":[{"appid":10,"playtime_forever":5},{"appid":440}]}}`))
	}))
	defer server.Close()

	r, _ := newTestRetriever(t, server, defaultTTL())

	owned, hit, err := r.Fetch(context.Background(), testSteamID, "https://o")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if hit {
		t.Error("first fetch should be a miss")
	}
	if len(owned) != 2 || !owned.Has(10) || !owned.Has(440) {
		t.Errorf("owned = %v, want {10, 440}", owned.IDs())
	}
}

// TestFetch_CachesSuccess は成功結果がキャッシュされることを検証する。
func TestFetch_CachesSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"response":{"games":[{"appid":570}]}}`))
	}))
	defer server.Close()

	r, _ := newTestRetriever(t, server, defaultTTL())

	if _, _, err := r.Fetch(context.Background(), testSteamID, "https://o"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	owned, hit, err := r.Fetch(context.Background(), testSteamID, "https://o")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !hit {
		t.Error("second fetch should be a hit")
	}
	if !owned.Has(570) {
		t.Errorf("owned = %v, want {570}", owned.IDs())
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
}

// TestFetch_EmptyLibraryIsSuccess は空の所有リストを正常な空集合として扱うことを検証する。
func TestFetch_EmptyLibraryIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{"game_count":0,"games":[]}}`))
	}))
	defer server.Close()

	r, _ := newTestRetriever(t, server, defaultTTL())

	owned, _, err := r.Fetch(context.Background(), testSteamID, "https://o")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(owned) != 0 {
		t.Errorf("owned = %v, want empty", owned.IDs())
	}
}

// TestFetch_AccessDenied は非公開ライブラリがKindAccessDeniedになり、キャッシュされないことを検証する。
func TestFetch_AccessDenied(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "403 status", status: http.StatusForbidden, body: ``},
		{name: "games absent", status: http.StatusOK, body: `{"response":{}}`},
		{name: "games not a list", status: http.StatusOK, body: `{"response":{"games":{"appid":1}}}`},
		{name: "games null", status: http.StatusOK, body: `{"response":{"games":null}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			r, store := newTestRetriever(t, server, defaultTTL())

			for i := 0; i < 2; i++ {
				_, _, err := r.Fetch(context.Background(), testSteamID, "https://o")
				var upErr *model.UpstreamError
				if !errors.As(err, &upErr) {
					t.Fatalf("error = %v, want *model.UpstreamError", err)
				}
				if upErr.Kind != model.KindAccessDenied {
					t.Errorf("Kind = %v, want %v", upErr.Kind, model.KindAccessDenied)
				}
			}
			if calls.Load() != 2 {
				t.Errorf("upstream calls = %d, want 2 (access denied must not be cached)", calls.Load())
			}
			if store.Len() != 0 {
				t.Errorf("store entries = %d, want 0", store.Len())
			}
		})
	}
}

// TestFetch_Unavailable はその他の失敗がKindUnavailableになることを検証する。
func TestFetch_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	r, _ := newTestRetriever(t, server, defaultTTL())

	_, _, err := r.Fetch(context.Background(), testSteamID, "https://o")

	var upErr *model.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("error = %v, want *model.UpstreamError", err)
	}
	if upErr.Kind != model.KindUnavailable {
		t.Errorf("Kind = %v, want %v", upErr.Kind, model.KindUnavailable)
	}
	if upErr.Status != 429 || upErr.Reason != "Too Many Requests" {
		t.Errorf("status = %d %q, want 429 Too Many Requests", upErr.Status, upErr.Reason)
	}
}

// TestFetch_TransportErrorIsUnavailable は接続失敗がKindUnavailableになることを検証する。
func TestFetch_TransportErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	r, _ := newTestRetriever(t, server, defaultTTL())
	server.Close()

	_, _, err := r.Fetch(context.Background(), testSteamID, "https://o")

	var upErr *model.UpstreamError
	if !errors.As(err, &upErr) || upErr.Kind != model.KindUnavailable {
		t.Errorf("error = %v, want KindUnavailable", err)
	}
	if upErr != nil && upErr.Status != 0 {
		t.Errorf("Status = %d, want 0", upErr.Status)
	}
}

// TestFetch_TransportErrorHidesAPIKey は接続失敗時にAPIキーがログにもエラーにも残らないことを検証する。
func TestFetch_TransportErrorHidesAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL + "/IPlayerService/GetOwnedGames/v1/"
	server.Close()

	var buf bytes.Buffer
	logger := applog.Setup(&buf)
	m := metrics.NewCollector(prometheus.NewRegistry())
	client := upstream.NewClient(&http.Client{Timeout: time.Second}, m, logger, upstream.Config{RatePerSec: 100, MaxBody: 1 << 20})
	store := memory.New(100)
	t.Cleanup(func() { store.Close() })
	r := NewRetriever(client, store, m, logger, endpoint, "SUPERSECRETKEY", defaultTTL())

	_, _, err := r.Fetch(context.Background(), testSteamID, "https://o")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if strings.Contains(err.Error(), "SUPERSECRETKEY") {
		t.Errorf("error must not contain the API key: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected failure log")
	}
	if strings.Contains(buf.String(), "SUPERSECRETKEY") {
		t.Errorf("log must not contain the API key: %s", buf.String())
	}
}

// TestFetch_UsesPerIdentityTTL はSteam IDごとのTTLでキャッシュされることを検証する。
func TestFetch_UsesPerIdentityTTL(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"response":{"games":[]}}`))
	}))
	defer server.Close()

	ttl := config.SteamTTL{
		Default:   time.Hour,
		Overrides: map[string]time.Duration{testSteamID: 30 * time.Millisecond},
	}
	r, _ := newTestRetriever(t, server, ttl)

	if got := r.TTLFor(testSteamID); got != 30*time.Millisecond {
		t.Errorf("TTLFor(override) = %v, want %v", got, 30*time.Millisecond)
	}
	if got := r.TTLFor("other"); got != time.Hour {
		t.Errorf("TTLFor(other) = %v, want %v", got, time.Hour)
	}

	if _, _, err := r.Fetch(context.Background(), testSteamID, "https://o"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, hit, err := r.Fetch(context.Background(), testSteamID, "https://o"); err != nil || hit {
		t.Errorf("Fetch() hit = %v, err = %v; want miss after override TTL", hit, err)
	}
	if calls.Load() != 2 {
		t.Errorf("upstream calls = %d, want 2", calls.Load())
	}
}

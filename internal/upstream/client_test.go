package upstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	applog "github.com/hitoshi/dealpick/internal/logger"
	"github.com/hitoshi/dealpick/internal/metrics"
)

func newTestClient(t *testing.T, server *httptest.Server, config Config) *Client {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewClient(server.Client(), metrics.NewCollector(prometheus.NewRegistry()), logger, config)
}

// TestGet_SendsUserAgentAndReturnsBody はUser-Agentを付与しボディを返すことを検証する。
func TestGet_SendsUserAgentAndReturnsBody(t *testing.T) {
	var gotUA, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{RatePerSec: 10, MaxBody: 1024})

	resp, err := c.Get(context.Background(), "deals", server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.OK() {
		t.Errorf("OK() = false, status %d", resp.StatusCode)
	}
	if string(resp.Body) != "[]" {
		t.Errorf("body = %q, want %q", resp.Body, "[]")
	}
	if gotUA != UserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, UserAgent)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q, want %q", gotAccept, "application/json")
	}
}

// TestGet_NonOKStatusIsNotAnError は2xx以外をエラーにせずステータスと理由句を返すことを検証する。
func TestGet_NonOKStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{RatePerSec: 10, MaxBody: 1024})

	resp, err := c.Get(context.Background(), "steam", server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.OK() {
		t.Error("OK() = true, want false")
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
	if resp.Reason != "Service Unavailable" {
		t.Errorf("reason = %q, want %q", resp.Reason, "Service Unavailable")
	}
}

// TestGet_BodyTooLarge は上限を超えるボディをエラーにすることを検証する。
func TestGet_BodyTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{RatePerSec: 10, MaxBody: 1024})

	_, err := c.Get(context.Background(), "deals", server.URL)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("error = %v, want ErrBodyTooLarge", err)
	}
}

// TestGet_TransportError は接続失敗をエラーとして返し、URLのAPIキーをログに残さないことを検証する。
func TestGet_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	var buf bytes.Buffer
	c := NewClient(&http.Client{Timeout: time.Second}, metrics.NewCollector(prometheus.NewRegistry()), applog.Setup(&buf), Config{RatePerSec: 10, MaxBody: 1024})

	_, err := c.Get(context.Background(), "steam", url+"/?key=SECRET")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !strings.Contains(buf.String(), "上流APIへのリクエストに失敗しました") {
		t.Errorf("expected failure log, got %s", buf.String())
	}
	if strings.Contains(buf.String(), "SECRET") {
		t.Errorf("log must not contain the API key: %s", buf.String())
	}
	if strings.Contains(err.Error(), "SECRET") {
		t.Errorf("error must not contain the API key: %v", err)
	}
	if !strings.Contains(err.Error(), "key=REDACTED") {
		t.Errorf("error = %v, want redacted url", err)
	}
}

// TestGet_CanceledContextStopsWaiting はキャンセル済みコンテキストで待機せずに戻ることを検証する。
func TestGet_CanceledContextStopsWaiting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	c := newTestClient(t, server, Config{RatePerSec: 0.001, MaxBody: 1024})

	// 最初のトークンを消費する
	if _, err := c.Get(context.Background(), "deals", server.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Get(ctx, "deals", server.URL); err == nil {
		t.Error("expected error for canceled context")
	}
}

// TestReasonText はステータス行から理由句を取り出すことを検証する。
func TestReasonText(t *testing.T) {
	tests := []struct {
		status string
		code   int
		want   string
	}{
		{"403 Forbidden", 403, "Forbidden"},
		{"500 Oops", 500, "Oops"},
		{"502", 502, "Bad Gateway"},
	}
	for _, tt := range tests {
		got := ReasonText(&http.Response{Status: tt.status, StatusCode: tt.code})
		if got != tt.want {
			t.Errorf("ReasonText(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

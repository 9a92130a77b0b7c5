package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/dealpick/internal/cache"
	"github.com/hitoshi/dealpick/internal/config"
	"github.com/hitoshi/dealpick/internal/database"
	"github.com/hitoshi/dealpick/internal/deals"
	"github.com/hitoshi/dealpick/internal/handler"
	"github.com/hitoshi/dealpick/internal/logger"
	"github.com/hitoshi/dealpick/internal/metrics"
	"github.com/hitoshi/dealpick/internal/security"
	"github.com/hitoshi/dealpick/internal/steam"
	"github.com/hitoshi/dealpick/internal/upstream"
)

// Init はアプリケーションの初期化を行う。
// .envファイルと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envファイルがあれば環境変数に読み込む
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.SlogLevel())

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("cache_backend", cfg.Cache.Backend),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// キャッシュストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. 外向きHTTPクライアント
	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return err
	}

	// 2. キャッシュストア
	store, err := openStore(cfg.Cache)
	if err != nil {
		return err
	}
	defer store.Close()

	slog.Info("cache store opened", slog.String("backend", cfg.Cache.Backend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 期限切れエントリの掃除（保存先が自前で期限切れを消さない場合のみ）
	if sweeper, ok := store.(cache.Sweeper); ok {
		go cache.RunSweeper(ctx, sweeper, cfg.Cache.SweepInterval, slog.Default())
	}

	// 4. ルーターの構築
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	router := buildRouter(cfg, store, httpClient, reg)

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newHTTPClient は上流API用のHTTPクライアントを生成する。
// SSRFガードが有効な場合はエンドポイントを検証し、safeurlのクライアントを使う。
func newHTTPClient(cfg *config.Config) (*http.Client, error) {
	if !cfg.UpstreamSSRFGuard {
		slog.Warn("SSRF guard is disabled for upstream requests")
		return security.NewPlainClient(cfg.UpstreamTimeout), nil
	}

	for _, endpoint := range []string{cfg.CheapSharkEndpoint, cfg.SteamEndpoint} {
		if err := security.ValidateEndpoint(endpoint); err != nil {
			return nil, fmt.Errorf("invalid upstream endpoint: %w", err)
		}
	}
	return security.NewGuardedClient(cfg.UpstreamTimeout), nil
}

// buildRouter はリトリーバーとハンドラーを組み立ててルーターを返す。
func buildRouter(cfg *config.Config, store cache.Store, httpClient *http.Client, reg *prometheus.Registry) http.Handler {
	log := slog.Default()
	m := metrics.NewCollector(reg)

	client := upstream.NewClient(httpClient, m, log, upstream.Config{
		RatePerSec: cfg.UpstreamRatePerSec,
		MaxBody:    cfg.UpstreamMaxBody,
	})

	dealsRetriever := deals.NewRetriever(client, store, m, log, cfg.CheapSharkEndpoint)
	steamRetriever := steam.NewRetriever(client, store, m, log, cfg.SteamEndpoint, cfg.SteamAPIKey, cfg.SteamTTL)

	deps := &handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		DealHandler: handler.NewDealHandler(dealsRetriever, steamRetriever, m, nil, handler.DealHandlerConfig{
			DealsTTL:     cfg.DealsCacheTTL,
			PublicOrigin: cfg.PublicOrigin,
		}),
		MetricsHandler: metrics.Handler(reg),
	}
	if checker, ok := store.(handler.HealthChecker); ok {
		deps.HealthChecker = checker
	}

	return handler.NewRouter(deps)
}

// runMigrate はキャッシュ用データベースのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.Cache.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.Cache.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.Cache.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("cache_entries schema is up to date",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

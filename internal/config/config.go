package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// 上流エンドポイントの既定値。
const (
	DefaultCheapSharkEndpoint = "https://www.cheapshark.com/api/1.0/deals"
	DefaultSteamEndpoint      = "https://api.steampowered.com/IPlayerService/GetOwnedGames/v1/"
)

// キャッシュ有効期間の既定値。
const (
	DefaultSteamCacheTTL = 7 * 24 * time.Hour
	DefaultDealsCacheTTL = time.Hour
)

// maxTTLSeconds はtime.Durationで表せる秒数の上限。
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Steam
	SteamAPIKey   string `validate:"required"`
	SteamEndpoint string `validate:"required,url"`
	SteamTTL      SteamTTL

	// CheapShark
	CheapSharkEndpoint string        `validate:"required,url"`
	DealsCacheTTL      time.Duration `validate:"gt=0"`

	// Upstream
	UpstreamTimeout    time.Duration `validate:"gt=0"`
	UpstreamMaxBody    int64         `validate:"gt=0"`
	UpstreamRatePerSec float64       `validate:"gt=0"`
	UpstreamSSRFGuard  bool

	// Cache
	Cache CacheConfig

	// Server
	ServerPort   string `validate:"required,numeric"`
	PublicOrigin string `validate:"omitempty,url"`

	// CORS
	CORSAllowedOrigin string `validate:"required"`

	// Logging
	LogLevel string `validate:"oneof=debug info warn error"`
}

// CacheConfig はキャッシュストアの選択と接続先。
type CacheConfig struct {
	Backend        string `validate:"oneof=memory leveldb redis postgres"`
	MemoryCapacity int    `validate:"gt=0"`
	LevelDBPath    string `validate:"required_if=Backend leveldb"`
	RedisAddr      string `validate:"required_if=Backend redis"`
	RedisPassword  string
	RedisDB        int           `validate:"gte=0"`
	DatabaseURL    string        `validate:"required_if=Backend postgres"`
	SweepInterval  time.Duration `validate:"gt=0"`
}

// LoadDotEnv は .env ファイルの値を環境変数に読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.SteamAPIKey = os.Getenv("STEAM_API_KEY")
	if cfg.SteamAPIKey == "" {
		missing = append(missing, "STEAM_API_KEY")
	}

	cfg.Cache.Backend = strings.ToLower(getEnvString("CACHE_BACKEND", "memory"))
	cfg.Cache.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.Cache.Backend == "postgres" && cfg.Cache.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SteamEndpoint = getEnvString("STEAM_ENDPOINT", DefaultSteamEndpoint)
	cfg.SteamTTL = SteamTTL{
		Default:   getEnvSeconds("STEAM_CACHE_TTL_SECONDS", DefaultSteamCacheTTL),
		Overrides: map[string]time.Duration{},
	}
	if raw := os.Getenv("STEAM_CACHE_TTL_OVERRIDES"); raw != "" {
		overrides, err := ParseSteamTTLOverrides(raw)
		if err != nil {
			slog.Warn("STEAM_CACHE_TTL_OVERRIDES を解析できないため無視します",
				slog.String("error", err.Error()),
			)
		} else {
			cfg.SteamTTL.Overrides = overrides
		}
	}

	cfg.CheapSharkEndpoint = getEnvString("CHEAPSHARK_ENDPOINT", DefaultCheapSharkEndpoint)
	cfg.DealsCacheTTL = getEnvSeconds("DEALS_CACHE_TTL_SECONDS", DefaultDealsCacheTTL)

	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.UpstreamMaxBody = getEnvInt64("UPSTREAM_MAX_BODY", 10485760)
	cfg.UpstreamRatePerSec = getEnvFloat("UPSTREAM_RATE_PER_SEC", 10)
	cfg.UpstreamSSRFGuard = getEnvBool("UPSTREAM_SSRF_GUARD", true)

	cfg.Cache.MemoryCapacity = getEnvInt("CACHE_MEMORY_CAPACITY", 10000)
	cfg.Cache.LevelDBPath = getEnvString("CACHE_LEVELDB_PATH", "./data/leveldb")
	cfg.Cache.RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.Cache.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.Cache.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.Cache.SweepInterval = getEnvDuration("CACHE_SWEEP_INTERVAL", 10*time.Minute)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.PublicOrigin = strings.TrimRight(getEnvString("PUBLIC_ORIGIN", ""), "/")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SlogLevel はLogLevelをslog.Levelに変換する。
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SteamTTL はSteam IDごとのキャッシュ有効期間。
// 上書き設定がないIDには Default を使う。
type SteamTTL struct {
	Default   time.Duration
	Overrides map[string]time.Duration
}

// For は指定したSteam IDのキャッシュ有効期間を返す。
func (t SteamTTL) For(steamID string) time.Duration {
	if d, ok := t.Overrides[steamID]; ok {
		return d
	}
	return t.Default
}

// ParseSteamTTLOverrides は {"<steamId>": <秒>} 形式のJSONを解析する。
// 値は数値または数値文字列を受け付け、正の値でないエントリと
// time.Durationで表せないほど大きいエントリは無視する。
func ParseSteamTTLOverrides(raw string) (map[string]time.Duration, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode overrides: %w", err)
	}

	overrides := make(map[string]time.Duration, len(entries))
	for steamID, v := range entries {
		secs, ok := parseSeconds(v)
		if !ok {
			continue
		}
		overrides[steamID] = secs
	}
	return overrides, nil
}

func parseSeconds(v json.RawMessage) (time.Duration, bool) {
	var n float64
	if err := json.Unmarshal(v, &n); err != nil {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		n = f
	}
	// NaNもここで弾く
	if !(n > 0 && n < float64(maxTTLSeconds)) {
		return 0, false
	}
	return time.Duration(n * float64(time.Second)), true
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvSeconds は秒数指定の環境変数を読む。
// 正の整数でない場合とtime.Durationで表せない場合は既定値を返す。
func getEnvSeconds(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || i <= 0 || i > maxTTLSeconds {
		slog.Warn("環境変数の値が不正なため既定値を使用します",
			slog.String("key", key),
			slog.String("value", v),
		)
		return defaultVal
	}
	return time.Duration(i) * time.Second
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

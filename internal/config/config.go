package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/hitoshi/reposcorer/internal/model"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数（と任意の設定ファイル）から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel slog.Level

	// GitHub
	GitHubAPIURL            string
	GitHubSearchPath        string
	GitHubToken             string
	GitHubTimeout           time.Duration
	GitHubRequestsPerMinute int

	// Scoring
	ScoreWeights model.ScoreWeights

	// Rate Limit
	RateLimitSearch int
	// TrustedProxy がtrueの場合のみX-Forwarded-For等のヘッダーをクライアントIPとして扱う
	TrustedProxy    bool

	// Telemetry
	OTelEnabled     bool
	OTelServiceName string

	v *viper.Viper
}

// GitHub検索APIの1分あたりの上限（認証あり・なし）。
const (
	authenticatedSearchPerMinute   = 30
	unauthenticatedSearchPerMinute = 10
)

// Load は環境変数からConfigを読み込む。
// 数値・真偽値・期間として解釈できない値がある場合はエラーを返す。
func Load() (*Config, error) {
	return load("")
}

// LoadFile は設定ファイルと環境変数からConfigを読み込む。
// キー名は環境変数と同じ（大文字小文字は区別しない）で、環境変数が優先される。
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("GITHUB_API_URL", "https://api.github.com/")
	v.SetDefault("GITHUB_SEARCH_PATH", "search/repositories")
	v.SetDefault("GITHUB_TIMEOUT", "10s")
	v.SetDefault("SCORER_STARS_WEIGHT", 0.5)
	v.SetDefault("SCORER_FORKS_WEIGHT", 0.3)
	v.SetDefault("SCORER_RECENCY_WEIGHT", 0.2)
	v.SetDefault("RATE_LIMIT_SEARCH", 60)
	v.SetDefault("TRUSTED_PROXY", false)
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "reposcorer")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{v: v}
	var invalid []string

	cfg.ServerPort = v.GetString("SERVER_PORT")
	cfg.CORSAllowedOrigin = v.GetString("CORS_ALLOWED_ORIGIN")
	cfg.LogLevel = parseLogLevel(v.GetString("LOG_LEVEL"))
	cfg.GitHubAPIURL = v.GetString("GITHUB_API_URL")
	cfg.GitHubSearchPath = v.GetString("GITHUB_SEARCH_PATH")
	cfg.GitHubToken = v.GetString("GITHUB_TOKEN")
	if cfg.GitHubToken == "" {
		cfg.GitHubToken = v.GetString("GH_TOKEN")
	}
	cfg.OTelServiceName = v.GetString("OTEL_SERVICE_NAME")

	if _, err := cast.ToIntE(cfg.ServerPort); err != nil {
		invalid = append(invalid, "SERVER_PORT")
	}

	var err error
	if cfg.GitHubTimeout, err = cast.ToDurationE(v.Get("GITHUB_TIMEOUT")); err != nil {
		invalid = append(invalid, "GITHUB_TIMEOUT")
	}

	if raw := v.Get("GITHUB_REQUESTS_PER_MINUTE"); raw != nil {
		if cfg.GitHubRequestsPerMinute, err = cast.ToIntE(raw); err != nil {
			invalid = append(invalid, "GITHUB_REQUESTS_PER_MINUTE")
		}
	} else if cfg.GitHubToken != "" {
		cfg.GitHubRequestsPerMinute = authenticatedSearchPerMinute
	} else {
		cfg.GitHubRequestsPerMinute = unauthenticatedSearchPerMinute
	}

	if cfg.ScoreWeights.Stars, err = cast.ToFloat64E(v.Get("SCORER_STARS_WEIGHT")); err != nil {
		invalid = append(invalid, "SCORER_STARS_WEIGHT")
	}
	if cfg.ScoreWeights.Forks, err = cast.ToFloat64E(v.Get("SCORER_FORKS_WEIGHT")); err != nil {
		invalid = append(invalid, "SCORER_FORKS_WEIGHT")
	}
	if cfg.ScoreWeights.Recency, err = cast.ToFloat64E(v.Get("SCORER_RECENCY_WEIGHT")); err != nil {
		invalid = append(invalid, "SCORER_RECENCY_WEIGHT")
	}

	if cfg.RateLimitSearch, err = cast.ToIntE(v.Get("RATE_LIMIT_SEARCH")); err != nil {
		invalid = append(invalid, "RATE_LIMIT_SEARCH")
	}
	if cfg.TrustedProxy, err = cast.ToBoolE(v.Get("TRUSTED_PROXY")); err != nil {
		invalid = append(invalid, "TRUSTED_PROXY")
	}
	if cfg.OTelEnabled, err = cast.ToBoolE(v.Get("OTEL_ENABLED")); err != nil {
		invalid = append(invalid, "OTEL_ENABLED")
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid configuration values: %v", invalid)
	}

	return cfg, nil
}

// HasNegativeWeight はいずれかのスコア重みが負の場合にtrueを返す。
// 負の重みは読み込み時には拒否せず、スコア計算のたびにエラーとなる。
func (c *Config) HasNegativeWeight() bool {
	w := c.ScoreWeights
	return w.Stars < 0 || w.Forks < 0 || w.Recency < 0
}

// WatchLogLevel は設定ファイルの変更を監視し、LOG_LEVELが変わるたびにfnを呼び出す。
// 初回は即座に呼び出す。設定ファイルを使っていない場合は初回の呼び出しのみ行う。
func (c *Config) WatchLogLevel(fn func(slog.Level)) {
	fn(c.LogLevel)
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		fn(parseLogLevel(c.v.GetString("LOG_LEVEL")))
	})
	c.v.WatchConfig()
}

// parseLogLevel はLOG_LEVELの値をslog.Levelに変換する。
// 認識できない値はinfoとして扱う。
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

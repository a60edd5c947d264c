package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/reposcorer/internal/config"
	"github.com/hitoshi/reposcorer/internal/github"
	"github.com/hitoshi/reposcorer/internal/handler"
	"github.com/hitoshi/reposcorer/internal/logger"
	"github.com/hitoshi/reposcorer/internal/metrics"
	"github.com/hitoshi/reposcorer/internal/middleware"
	"github.com/hitoshi/reposcorer/internal/model"
	"github.com/hitoshi/reposcorer/internal/scoring"
	"github.com/hitoshi/reposcorer/internal/search"
	"github.com/hitoshi/reposcorer/internal/security"
	"github.com/hitoshi/reposcorer/internal/telemetry"
)

const (
	defaultServerPort = "8080"
	shutdownTimeout   = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数（configPathが空でなければ設定ファイルも）からConfigを読み込む。
// 設定ファイルを使う場合、LOG_LEVELの変更は再起動せずに反映される。
func Init(w io.Writer, configPath string) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	level := new(slog.LevelVar)
	log := logger.SetupDefault(w, level)

	// 2. 設定の読み込み
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	cfg.WatchLogLevel(func(l slog.Level) {
		if level.Level() != l {
			log.Info("log level changed", slog.String("level", l.String()))
		}
		level.Set(l)
	})

	if cfg.HasNegativeWeight() {
		log.Warn("negative score weight configured, every scoring request will fail",
			slog.Float64("stars_weight", cfg.ScoreWeights.Stars),
			slog.Float64("forks_weight", cfg.ScoreWeights.Forks),
			slog.Float64("recency_weight", cfg.ScoreWeights.Recency),
		)
	}

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMを受信すると実行中のコマンドを止める。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(w)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// components はserve/searchで共有する依存関係。
type components struct {
	registry  *prometheus.Registry
	collector *metrics.Collector
	service   *search.Service
}

// buildComponents は設定からGitHubクライアント、スコア計算器、検索サービスを組み立てる。
func buildComponents(cfg *config.Config, log *slog.Logger) (*components, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	client, err := github.NewClient(
		github.WithBaseURL(cfg.GitHubAPIURL),
		github.WithSearchPath(cfg.GitHubSearchPath),
		github.WithToken(cfg.GitHubToken),
		github.WithTimeout(cfg.GitHubTimeout),
		github.WithLimiter(github.NewLimiter(cfg.GitHubRequestsPerMinute)),
		github.WithMetrics(collector),
		github.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}

	service := search.NewService(
		client,
		scoring.NewScorer(cfg.ScoreWeights),
		security.NewMarkupDetector(),
		collector,
		log,
	)

	return &components{
		registry:  registry,
		collector: collector,
		service:   service,
	}, nil
}

// setupTracing はOTEL_ENABLEDの場合にトレース出力を設定する。
func setupTracing(ctx context.Context, cfg *config.Config, log *slog.Logger) (telemetry.ShutdownFunc, error) {
	if !cfg.OTelEnabled {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := telemetry.Setup(ctx, cfg.OTelServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	log.Info("tracing enabled", slog.String("service_name", cfg.OTelServiceName))
	return shutdown, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", cfg.ServerPort, err)
	}
	return serve(ctx, ln, cfg, log)
}

// serve はlnで接続を受け付けるAPIサーバーを起動し、終了するまでブロックする。
func serve(ctx context.Context, ln net.Listener, cfg *config.Config, log *slog.Logger) error {
	shutdownTracing, err := setupTracing(ctx, cfg, log)
	if err != nil {
		ln.Close()
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}()

	comp, err := buildComponents(cfg, log)
	if err != nil {
		ln.Close()
		return err
	}

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitSearch), comp.collector)
	defer rl.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxyHeaders: cfg.TrustedProxy,
		RateLimiter:       rl,
		Gatherer:          comp.registry,
		SearchService:     comp.service,
	})

	server := &http.Server{
		Handler:      otelhttp.NewHandler(router, "http.server"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.GitHubTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("API server starting",
			slog.String("addr", ln.Addr().String()),
			slog.Int("github_requests_per_minute", cfg.GitHubRequestsPerMinute),
			slog.Bool("github_authenticated", cfg.GitHubToken != ""),
		)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("API server stopped gracefully")
	return nil
}

// runSearch は検索を1回実行し、スコア付きの結果をJSONでoutに書き出す。
func runSearch(ctx context.Context, out io.Writer, cfg *config.Config, log *slog.Logger, opts searchOptions) error {
	req := model.SearchRequest{
		Query: model.SearchQuery{Language: opts.language, CreatedAfter: opts.createdAfter},
		Page:  model.PageRequest{Page: opts.page, PageSize: opts.pageSize},
	}
	if _, err := time.Parse(search.DateLayout, opts.createdAfter); err != nil {
		return model.NewInvalidParameterTypeError("created-after", "日付（YYYY-MM-DD）")
	}
	if err := search.ValidateRequest(req); err != nil {
		return err
	}

	comp, err := buildComponents(cfg, log)
	if err != nil {
		return err
	}

	page, err := comp.service.SearchAndScore(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(page)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// serverPortFromEnv はSERVER_PORTを返す。未設定なら8080。
func serverPortFromEnv() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return defaultServerPort
}

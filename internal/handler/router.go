package handler

import (
	"log/slog"
	"net/http"

	"connectrpc.com/grpchealth"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/reposcorer/internal/metrics"
	"github.com/hitoshi/reposcorer/internal/middleware"
)

// HealthServiceName はgRPCヘルスチェックで報告するサービス名。
const HealthServiceName = "reposcorer.v1.RepositoryService"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	// TrustProxyHeaders がtrueの場合のみX-Forwarded-For等からクライアントIPを決める。
	// 信頼できるリバースプロキシの背後で動かすときだけ有効にする。
	TrustProxyHeaders bool

	// メトリクス公開（nilの場合/metricsは登録しない）
	Gatherer prometheus.Gatherer

	// 検索
	SearchService SearchService
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → RealIP（TrustProxyHeadersの場合のみ） → Logging → SecurityHeaders → CORS
//
// 検索APIにはさらにクライアントIPごとのレート制限を適用する。
// RealIPを通さない場合、クライアントIPは接続元のソケットアドレスになる。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewRequestIDMiddleware())
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 運用向けのルート ---
	r.Get("/health", healthHandler(logger))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}
	hpath, hhandler := grpchealth.NewHandler(grpchealth.NewStaticChecker(HealthServiceName))
	r.Mount(hpath, hhandler)

	// --- API ---
	repoHandler := NewRepositoryHandler(deps.SearchService, logger)
	r.Route("/api/v1", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Get("/repositories", repoHandler.ListRepositories)
	})

	return r
}

func healthHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			logger.DebugContext(r.Context(), "failed to write health response", slog.String("error", err.Error()))
		}
	}
}

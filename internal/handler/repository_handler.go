package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/reposcorer/internal/middleware"
	"github.com/hitoshi/reposcorer/internal/model"
	"github.com/hitoshi/reposcorer/internal/search"
)

// SearchService はスコア付き検索のインターフェース。
type SearchService interface {
	SearchAndScore(ctx context.Context, req model.SearchRequest) (*model.ScoredPage, error)
}

// RepositoryHandler はリポジトリ検索APIのHTTPハンドラー。
type RepositoryHandler struct {
	service SearchService
	logger  *slog.Logger
}

// NewRepositoryHandler はRepositoryHandlerの新しいインスタンスを生成する。
func NewRepositoryHandler(service SearchService, logger *slog.Logger) *RepositoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepositoryHandler{service: service, logger: logger}
}

// ListRepositories はGET /api/v1/repositories を処理する。
// クエリパラメータを検証し、スコア降順の検索結果を返す。
func (h *RepositoryHandler) ListRepositories(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearchRequest(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.service.SearchAndScore(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	middleware.AddLogAttrs(r.Context(),
		slog.Int("total_count", page.TotalCount),
		slog.Int("result_count", len(page.Repositories)),
	)
	writeJSON(w, r, h.logger, http.StatusOK, page)
}

// writeJSON はvをJSONで書き込む。ヘッダー送信後のエンコード失敗はクライアント切断が主因のためdebugで記録する。
func writeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.DebugContext(r.Context(), "failed to write response body",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// parseSearchRequest はクエリパラメータから検索リクエストを組み立てる。
// 欠落、型不一致、制約違反の順に検査し、最初に見つかった種別のエラーを返す。
func parseSearchRequest(q url.Values) (model.SearchRequest, error) {
	language := q.Get("language")
	if !q.Has("language") {
		return model.SearchRequest{}, model.NewMissingParameterError("language")
	}
	createdAfter := q.Get("created_after")
	if createdAfter == "" {
		return model.SearchRequest{}, model.NewMissingParameterError("created_after")
	}

	if _, err := time.Parse(search.DateLayout, createdAfter); err != nil {
		return model.SearchRequest{}, model.NewInvalidParameterTypeError("created_after", "日付（YYYY-MM-DD）")
	}
	page, err := intParam(q, "page", search.DefaultPage)
	if err != nil {
		return model.SearchRequest{}, err
	}
	pageSize, err := intParam(q, "page_size", search.DefaultPageSize)
	if err != nil {
		return model.SearchRequest{}, err
	}

	req := model.SearchRequest{
		Query: model.SearchQuery{Language: language, CreatedAfter: createdAfter},
		Page:  model.PageRequest{Page: page, PageSize: pageSize},
	}
	if err := search.ValidateRequest(req); err != nil {
		return model.SearchRequest{}, err
	}
	return req, nil
}

// intParam は整数パラメータを読み取る。未指定または空の場合はdefを返す。
func intParam(q url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewInvalidParameterTypeError(name, "整数")
	}
	return n, nil
}

// writeError はエラーレスポンスを書き込み、サーバー側の失敗は原因とともにログに残す。
func (h *RepositoryHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := middleware.WriteError(w, err)
	code := model.ErrCodeInternal
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.Code
	}
	middleware.AddLogAttrs(r.Context(), slog.String("error_code", code))
	if status < http.StatusInternalServerError {
		return
	}
	h.logger.ErrorContext(r.Context(), "repository search failed",
		slog.Int("status", status),
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
}

// Package search はリポジトリ検索とスコア付けの処理を提供する。
// 検索クエリの組み立て、上流呼び出し、スコア計算、並べ替えを1リクエスト内で完結させる。
package search

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/reposcorer/internal/metrics"
	"github.com/hitoshi/reposcorer/internal/model"
	"github.com/hitoshi/reposcorer/internal/scoring"
	"github.com/hitoshi/reposcorer/internal/security"
)

const (
	// SortBestMatch は上流のベストマッチ順。パラメータとしては送信されない。
	SortBestMatch = ""
	// OrderDesc は降順。
	OrderDesc = "desc"
)

// FloorInstant は更新日時をパースできなかった場合に使う下限日時（GitHubの公開日）。
var FloorInstant = time.Date(2008, time.April, 1, 0, 0, 0, 0, time.UTC)

// RepositorySearcher は上流のリポジトリ検索APIのインターフェース。
// 非2xxや通信失敗は*model.UpstreamErrorで返す。
type RepositorySearcher interface {
	SearchRepositories(ctx context.Context, query string, perPage, page int, sort, order string) (*model.SearchResult, error)
}

// Service はスコア付きリポジトリ検索のサービス。
// リクエスト間で共有する可変状態を持たないため、並行して呼び出してよい。
type Service struct {
	searcher  RepositorySearcher
	scorer    *scoring.Scorer
	markup    security.MarkupDetector
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// markupとmetricsはnilでもよい。
func NewService(
	searcher RepositorySearcher,
	scorer *scoring.Scorer,
	markup security.MarkupDetector,
	m metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		searcher:  searcher,
		scorer:    scorer,
		markup:    markup,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("github.com/hitoshi/reposcorer/internal/search"),
		now:       time.Now,
	}
}

// SearchAndScore は条件に合うリポジトリを1ページ分検索し、スコア降順で返す。
// アーカイブ済み・ミラーのリポジトリは常に除外する。
// 上流が422を返した場合はUNPROCESSABLE_INPUT、それ以外の上流失敗はUPSTREAM_UNAVAILABLE、
// 重みが不正な場合はINVALID_CONFIGURATIONの*model.APIErrorを返す。
func (s *Service) SearchAndScore(ctx context.Context, req model.SearchRequest) (*model.ScoredPage, error) {
	ctx, span := s.tracer.Start(ctx, "search.SearchAndScore",
		trace.WithAttributes(
			attribute.String("search.language", req.Query.Language),
			attribute.String("search.created_after", req.Query.CreatedAfter),
			attribute.Int("search.page", req.Page.Page),
			attribute.Int("search.page_size", req.Page.PageSize),
		),
	)
	defer span.End()

	q := BuildQuery(model.SearchQuery{
		Language:        req.Query.Language,
		CreatedAfter:    req.Query.CreatedAfter,
		IncludeArchived: false,
		IncludeMirrors:  false,
	})
	s.logger.InfoContext(ctx, "searching repositories",
		slog.String("query", q),
		slog.Int("page", req.Page.Page),
		slog.Int("page_size", req.Page.PageSize),
	)

	result, err := s.searcher.SearchRepositories(ctx, q, req.Page.PageSize, req.Page.Page, SortBestMatch, OrderDesc)
	if err != nil {
		apiErr := s.mapUpstreamError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, apiErr.Code)
		return nil, apiErr
	}

	if result == nil || len(result.Items) == 0 {
		s.recordSearch(metrics.OutcomeEmpty)
		return &model.ScoredPage{
			TotalCount:   0,
			Page:         req.Page.Page,
			PageSize:     req.Page.PageSize,
			Repositories: []model.ScoredRepository{},
		}, nil
	}
	s.logger.InfoContext(ctx, "upstream search returned",
		slog.Int("total_count", result.TotalCount),
		slog.Int("items", len(result.Items)),
	)

	now := s.now()
	scored := make([]model.ScoredRepository, 0, len(result.Items))
	for _, item := range result.Items {
		updated := s.lastUpdated(ctx, item)
		s.inspectDescription(ctx, item)
		score, err := s.scorer.Score(item.Stars, item.Forks, daysBetween(updated, now))
		if err != nil {
			s.recordSearch(metrics.OutcomeConfigError)
			span.RecordError(err)
			span.SetStatus(codes.Error, model.ErrCodeInvalidConfiguration)
			return nil, err
		}
		scored = append(scored, model.ScoredRepository{
			ID:          item.ID,
			Name:        item.Name,
			Description: item.Description,
			Score:       score,
			Language:    item.Language,
			CreatedAt:   item.CreatedAt,
			Stars:       item.Stars,
			Forks:       item.Forks,
		})
	}

	// 同点の場合は上流の並び順を保つ
	slices.SortStableFunc(scored, func(a, b model.ScoredRepository) int {
		return cmp.Compare(b.Score, a.Score)
	})

	s.recordSearch(metrics.OutcomeSuccess)
	if s.metrics != nil {
		s.metrics.RecordItemsScored(len(scored))
	}
	span.SetAttributes(attribute.Int("search.total_count", result.TotalCount))

	return &model.ScoredPage{
		TotalCount:   result.TotalCount,
		Page:         req.Page.Page,
		PageSize:     req.Page.PageSize,
		Repositories: scored,
	}, nil
}

// lastUpdated はスコア計算に使う更新日時を返す。
// pushed_atが空ならcreated_atを使い、パースできなければFloorInstantで代替する。
func (s *Service) lastUpdated(ctx context.Context, item model.RepositoryItem) time.Time {
	raw := item.CreatedAt
	if item.PushedAt != nil && strings.TrimSpace(*item.PushedAt) != "" {
		raw = *item.PushedAt
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to parse repository timestamp, using floor instant",
			slog.Int64("repository_id", item.ID),
			slog.String("repository", item.Name),
			slog.String("timestamp", raw),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.RecordTimestampFallback()
		}
		return FloorInstant
	}
	return t
}

// daysBetween は経過日数を返す。端数は切り捨てる。
func daysBetween(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}

// inspectDescription は説明文にマークアップが含まれていれば記録する。
// 説明文はJSON文字列としてそのまま返すため、ここでは変更しない。
func (s *Service) inspectDescription(ctx context.Context, item model.RepositoryItem) {
	if s.markup == nil || item.Description == nil || !s.markup.ContainsMarkup(*item.Description) {
		return
	}
	s.logger.DebugContext(ctx, "repository description contains markup",
		slog.Int64("repository_id", item.ID),
		slog.String("repository", item.Name),
	)
	if s.metrics != nil {
		s.metrics.RecordDescriptionMarkup()
	}
}

func (s *Service) recordSearch(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSearch(outcome)
	}
}

// mapUpstreamError は上流の失敗を呼び出し元向けのAPIErrorに変換する。
func (s *Service) mapUpstreamError(err error) *model.APIError {
	var upstreamErr *model.UpstreamError
	if errors.As(err, &upstreamErr) && upstreamErr.StatusCode == http.StatusUnprocessableEntity {
		s.recordSearch(metrics.OutcomeUnprocessable)
		s.logger.Warn("upstream rejected search query",
			slog.String("error", err.Error()),
		)
		return model.NewUnprocessableInputError(err)
	}

	s.recordSearch(metrics.OutcomeUpstreamError)
	message := ""
	if upstreamErr != nil {
		message = upstreamErr.Message
	}
	s.logger.Error("upstream search failed",
		slog.String("error", err.Error()),
	)
	return model.NewUpstreamUnavailableError(message, err)
}

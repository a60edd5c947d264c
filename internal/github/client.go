// Package github はGitHubリポジトリ検索APIのクライアントを提供する。
// リクエスト構築と認証はgo-githubに任せ、レスポンスは不正な日時を許容するため独自の構造体にデコードする。
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v75/github"
	"github.com/google/go-querystring/query"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
	"k8s.io/utils/ptr"

	"github.com/hitoshi/reposcorer/internal/metrics"
	"github.com/hitoshi/reposcorer/internal/model"
)

const (
	// DefaultBaseURL はGitHub REST APIのベースURL。
	DefaultBaseURL = "https://api.github.com/"
	// DefaultSearchPath はリポジトリ検索エンドポイントのパス（ベースURLからの相対）。
	DefaultSearchPath = "search/repositories"
	// DefaultTimeout は上流呼び出し1回あたりのタイムアウト。
	DefaultTimeout = 10 * time.Second

	mediaTypeJSON = "application/vnd.github+json"
)

// NewLimiter はGitHub検索APIへの送信ペースを制御するレートリミッターを返す。
// 検索APIは1分単位で上限が決まるため、1分ぶんをバーストとして許可する。
// requestsPerMinuteが0以下の場合は制限しない。
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		slog.Info("GitHub search limiter disabled")
		return rate.NewLimiter(rate.Inf, 0)
	}
	slog.Info("Created GitHub search limiter",
		"rate", fmt.Sprintf("%d requests/minute", requestsPerMinute),
		"burst", requestsPerMinute,
	)
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute)
}

// Client はGitHubリポジトリ検索APIのクライアント。
// 1回の検索につき上流へのリクエストは1回だけ行い、再試行はしない。
type Client struct {
	gh         *gogithub.Client
	limiter    *rate.Limiter
	waitLimit  time.Duration
	searchPath string
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

type clientOptions struct {
	httpClient *http.Client
	baseURL    string
	searchPath string
	token      string
	timeout    time.Duration
	limiter    *rate.Limiter
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// ClientOption はClientの設定を変更する。
type ClientOption func(*clientOptions)

// WithHTTPClient は上流呼び出しに使うHTTPクライアントを差し替える。
// 指定したクライアントのタイムアウトはそのまま使い、WithTimeoutは送信待ちの上限にだけ効く。
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithBaseURL はAPIのベースURLを設定する。
func WithBaseURL(u string) ClientOption {
	return func(o *clientOptions) { o.baseURL = u }
}

// WithSearchPath は検索エンドポイントのパスを設定する。
func WithSearchPath(p string) ClientOption {
	return func(o *clientOptions) { o.searchPath = p }
}

// WithToken は認証用のトークンを設定する。空文字の場合は未認証で呼び出す。
func WithToken(token string) ClientOption {
	return func(o *clientOptions) { o.token = token }
}

// WithTimeout は上流呼び出しのタイムアウトを設定する。
// 送信ペース制御の待ち時間の上限にも使う。
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// WithLimiter は送信ペース制御用のレートリミッターを設定する。
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(o *clientOptions) { o.limiter = l }
}

// WithMetrics は上流のステータスとレイテンシを記録するコレクターを設定する。
func WithMetrics(m metrics.MetricsCollector) ClientOption {
	return func(o *clientOptions) { o.metrics = m }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// NewClient はClientの新しいインスタンスを生成する。
// ベースURLが不正な場合はエラーを返す。
func NewClient(opts ...ClientOption) (*Client, error) {
	o := clientOptions{
		baseURL:    DefaultBaseURL,
		searchPath: DefaultSearchPath,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   o.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	base, err := url.Parse(o.baseURL)
	if err != nil {
		return nil, fmt.Errorf("GitHub APIのベースURLが不正です: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	gh := gogithub.NewClient(httpClient)
	if o.token != "" {
		gh = gh.WithAuthToken(o.token)
		o.logger.Info("Using authenticated GitHub client")
	} else {
		o.logger.Warn("Using unauthenticated GitHub client (rate limited)")
	}
	gh.BaseURL = base

	return &Client{
		gh:         gh,
		limiter:    o.limiter,
		waitLimit:  o.timeout,
		searchPath: strings.TrimPrefix(o.searchPath, "/"),
		metrics:    o.metrics,
		logger:     o.logger,
	}, nil
}

// searchParams は検索エンドポイントのクエリパラメータ。
// sortが空の場合はベストマッチ順となるため送信しない。
type searchParams struct {
	Query   string `url:"q"`
	PerPage int    `url:"per_page"`
	Page    int    `url:"page"`
	Sort    string `url:"sort,omitempty"`
	Order   string `url:"order,omitempty"`
}

// searchResponse は検索エンドポイントのレスポンス。
// 日時は不正値をリポジトリ単位で扱うため文字列のまま受け取る。
type searchResponse struct {
	TotalCount *int             `json:"total_count"`
	Items      []repositoryJSON `json:"items"`
}

type repositoryJSON struct {
	ID              *int64  `json:"id"`
	Name            *string `json:"name"`
	Description     *string `json:"description"`
	CreatedAt       *string `json:"created_at"`
	PushedAt        *string `json:"pushed_at"`
	StargazersCount *int    `json:"stargazers_count"`
	ForksCount      *int    `json:"forks_count"`
	Language        *string `json:"language"`
}

// waitForSlot は送信枠が空くまで待つ。待ち時間はwaitLimitまでとし、
// それを超える待ちが必要な場合は待たずにエラーを返す。
func (c *Client) waitForSlot(ctx context.Context) error {
	if c.waitLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.waitLimit)
		defer cancel()
	}
	return c.limiter.Wait(ctx)
}

// SearchRepositories は検索クエリでリポジトリを1ページ分検索する。
// 上流が非2xxを返した場合や通信に失敗した場合は*model.UpstreamErrorを返す。
func (c *Client) SearchRepositories(ctx context.Context, q string, perPage, page int, sort, order string) (*model.SearchResult, error) {
	if c.limiter != nil {
		if err := c.waitForSlot(ctx); err != nil {
			return nil, &model.UpstreamError{
				Message: "送信待機中に中断されました",
				Err:     fmt.Errorf("rate limiter wait failed: %w", err),
			}
		}
	}

	values, err := query.Values(searchParams{
		Query:   q,
		PerPage: perPage,
		Page:    page,
		Sort:    sort,
		Order:   order,
	})
	if err != nil {
		return nil, fmt.Errorf("検索パラメータのエンコードに失敗しました: %w", err)
	}

	req, err := c.gh.NewRequest(http.MethodGet, c.searchPath+"?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", mediaTypeJSON)

	start := time.Now()
	var body searchResponse
	resp, err := c.gh.Do(ctx, req, &body)
	c.recordLatency(time.Since(start))

	if err != nil {
		upstreamErr := toUpstreamError(resp, err)
		c.recordStatus(upstreamErr.StatusCode)
		c.logger.ErrorContext(ctx, "GitHub search request failed",
			slog.Int("http_status", upstreamErr.StatusCode),
			slog.String("error", err.Error()),
		)
		return nil, upstreamErr
	}
	c.recordStatus(resp.StatusCode)

	return toSearchResult(body), nil
}

func (c *Client) recordLatency(d time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordUpstreamLatency(d)
	}
}

func (c *Client) recordStatus(statusCode int) {
	if c.metrics != nil {
		c.metrics.RecordUpstreamStatus(statusCode)
	}
}

// toSearchResult はレスポンスをドメインモデルに変換する。
// 欠落した数値は0、欠落した文字列は空文字として扱う。
func toSearchResult(body searchResponse) *model.SearchResult {
	items := make([]model.RepositoryItem, 0, len(body.Items))
	for _, r := range body.Items {
		items = append(items, model.RepositoryItem{
			ID:          ptr.Deref(r.ID, 0),
			Name:        ptr.Deref(r.Name, ""),
			Description: r.Description,
			CreatedAt:   ptr.Deref(r.CreatedAt, ""),
			PushedAt:    r.PushedAt,
			Stars:       ptr.Deref(r.StargazersCount, 0),
			Forks:       ptr.Deref(r.ForksCount, 0),
			Language:    ptr.Deref(r.Language, ""),
		})
	}
	return &model.SearchResult{
		TotalCount: ptr.Deref(body.TotalCount, 0),
		Items:      items,
	}
}

// toUpstreamError はgo-githubのエラーをステータスコード付きのUpstreamErrorに変換する。
// 通信エラーなどレスポンスが得られなかった場合のステータスコードは0。
func toUpstreamError(resp *gogithub.Response, err error) *model.UpstreamError {
	var (
		errResp  *gogithub.ErrorResponse
		rateErr  *gogithub.RateLimitError
		abuseErr *gogithub.AbuseRateLimitError
		status   int
		message  string
		httpResp *http.Response
	)

	switch {
	case errors.As(err, &errResp):
		httpResp, message = errResp.Response, errResp.Message
	case errors.As(err, &rateErr):
		httpResp, message = rateErr.Response, rateErr.Message
	case errors.As(err, &abuseErr):
		httpResp, message = abuseErr.Response, abuseErr.Message
	default:
		message = err.Error()
	}

	if httpResp == nil && resp != nil {
		httpResp = resp.Response
	}
	if httpResp != nil {
		status = httpResp.StatusCode
	}
	if message == "" && status != 0 {
		message = http.StatusText(status)
	}

	return &model.UpstreamError{
		StatusCode: status,
		Message:    message,
		Err:        err,
	}
}

// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 検索結果の分類。search_requests_totalのoutcomeラベルに使う。
const (
	OutcomeSuccess       = "success"
	OutcomeEmpty         = "empty"
	OutcomeUnprocessable = "unprocessable"
	OutcomeUpstreamError = "upstream_error"
	OutcomeConfigError   = "config_error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 検索サービスやミドルウェアから利用する。
type MetricsCollector interface {
	RecordSearch(outcome string)
	RecordUpstreamStatus(statusCode int)
	RecordUpstreamLatency(duration time.Duration)
	RecordTimestampFallback()
	RecordItemsScored(count int)
	RecordDescriptionMarkup()
	RecordRateLimited()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	searches          *prometheus.CounterVec
	upstreamStatus    *prometheus.CounterVec
	upstreamLatency   prometheus.Histogram
	timestampFallback prometheus.Counter
	itemsScored       prometheus.Counter
	descriptionMarkup prometheus.Counter
	rateLimited       prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reposcorer_search_requests_total",
			Help: "結果種別ごとのスコア付き検索の合計数",
		}, []string{"outcome"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reposcorer_upstream_status_total",
			Help: "上流検索APIのHTTPステータスコード別レスポンス数（通信失敗は0）",
		}, []string{"status_code"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reposcorer_upstream_latency_seconds",
			Help:    "上流検索APIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		timestampFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposcorer_timestamp_fallback_total",
			Help: "更新日時をパースできず下限日時で代替した件数",
		}),
		itemsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposcorer_items_scored_total",
			Help: "スコアを計算したリポジトリの合計数",
		}),
		descriptionMarkup: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposcorer_description_markup_total",
			Help: "HTMLマークアップを含む説明文を返した件数",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposcorer_rate_limited_total",
			Help: "レート制限で拒否したリクエストの合計数",
		}),
	}

	reg.MustRegister(
		c.searches,
		c.upstreamStatus,
		c.upstreamLatency,
		c.timestampFallback,
		c.itemsScored,
		c.descriptionMarkup,
		c.rateLimited,
	)

	return c
}

// RecordSearch は検索の結果種別を記録する。
func (c *Collector) RecordSearch(outcome string) {
	c.searches.WithLabelValues(outcome).Inc()
}

// RecordUpstreamStatus は上流のHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordUpstreamLatency は上流呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(duration time.Duration) {
	c.upstreamLatency.Observe(duration.Seconds())
}

// RecordTimestampFallback は更新日時の代替を記録する。
func (c *Collector) RecordTimestampFallback() {
	c.timestampFallback.Inc()
}

// RecordItemsScored はスコア計算したリポジトリ数を記録する。
func (c *Collector) RecordItemsScored(count int) {
	c.itemsScored.Add(float64(count))
}

// RecordDescriptionMarkup はマークアップを含む説明文を記録する。
func (c *Collector) RecordDescriptionMarkup() {
	c.descriptionMarkup.Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

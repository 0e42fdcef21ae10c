// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・HTTPミドルウェア・整合性チェックジョブから利用する。
type MetricsCollector interface {
	RecordPostCreated()
	RecordPostDeleted()
	RecordCommentAdded()
	RecordImageAttached()
	RecordIntegrityDrift(count int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	postsCreated   prometheus.Counter
	postsDeleted   prometheus.Counter
	commentsAdded  prometheus.Counter
	imagesAttached prometheus.Counter
	integrityDrift prometheus.Counter
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		postsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogman_posts_created_total",
			Help: "作成された投稿の合計数",
		}),
		postsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogman_posts_deleted_total",
			Help: "削除された投稿の合計数",
		}),
		commentsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogman_comments_added_total",
			Help: "追加されたコメントの合計数",
		}),
		imagesAttached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogman_images_attached_total",
			Help: "投稿に設定されたアイキャッチ画像の合計数",
		}),
		integrityDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogman_integrity_drift_total",
			Help: "整合性チェックで検出された不整合カテゴリの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blogman_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.postsCreated,
		c.postsDeleted,
		c.commentsAdded,
		c.imagesAttached,
		c.integrityDrift,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordPostCreated は投稿作成を記録する。
func (c *Collector) RecordPostCreated() {
	c.postsCreated.Inc()
}

// RecordPostDeleted は投稿削除を記録する。
func (c *Collector) RecordPostDeleted() {
	c.postsDeleted.Inc()
}

// RecordCommentAdded はコメント追加を記録する。
func (c *Collector) RecordCommentAdded() {
	c.commentsAdded.Inc()
}

// RecordImageAttached はアイキャッチ画像の設定を記録する。
func (c *Collector) RecordImageAttached() {
	c.imagesAttached.Inc()
}

// RecordIntegrityDrift は検出した不整合カテゴリ数を記録する。
func (c *Collector) RecordIntegrityDrift(count int) {
	c.integrityDrift.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)

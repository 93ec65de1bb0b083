// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// オーケストレーターやワーカーから利用する。
type MetricsCollector interface {
	RecordPublishSuccess(platform string)
	RecordPublishFailure(platform string, reason string)
	RecordUnsupportedAttempt(platform string)
	RecordTokenRefreshSuccess(platform string)
	RecordTokenRefreshFailure(platform string)
	RecordIdeasImported(count int)
	RecordRunDuration(duration time.Duration)
	RecordPlatformLatency(platform string, duration time.Duration)
	SetDuePreviews(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	publishSuccess     *prometheus.CounterVec
	publishFail        *prometheus.CounterVec
	unsupportedAttempt *prometheus.CounterVec
	tokenRefreshOK     *prometheus.CounterVec
	tokenRefreshFail   *prometheus.CounterVec
	ideasImported      prometheus.Counter
	runDuration        prometheus.Histogram
	platformLatency    *prometheus.HistogramVec
	duePreviews        prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		publishSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_publish_success_total",
			Help: "プラットフォーム別の公開成功の合計数",
		}, []string{"platform"}),
		publishFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_publish_fail_total",
			Help: "プラットフォーム別・理由別の公開失敗の合計数",
		}, []string{"platform", "reason"}),
		unsupportedAttempt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_unsupported_attempt_total",
			Help: "未対応プラットフォームへの公開試行の合計数",
		}, []string{"platform"}),
		tokenRefreshOK: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_token_refresh_success_total",
			Help: "プラットフォーム別のトークンリフレッシュ成功の合計数",
		}, []string{"platform"}),
		tokenRefreshFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_token_refresh_fail_total",
			Help: "プラットフォーム別のトークンリフレッシュ失敗の合計数",
		}, []string{"platform"}),
		ideasImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publisher_ideas_imported_total",
			Help: "フィード取込で作成されたアイデアの合計数",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "publisher_publish_run_duration_seconds",
			Help:    "公開実行1回あたりの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		platformLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "publisher_platform_call_duration_seconds",
			Help:    "プラットフォームAPI呼び出し1回あたりの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
		duePreviews: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "publisher_due_previews",
			Help: "直近の実行で公開対象となったプレビュー数",
		}),
	}

	reg.MustRegister(
		c.publishSuccess,
		c.publishFail,
		c.unsupportedAttempt,
		c.tokenRefreshOK,
		c.tokenRefreshFail,
		c.ideasImported,
		c.runDuration,
		c.platformLatency,
		c.duePreviews,
	)

	return c
}

// RecordPublishSuccess は公開成功を記録する。
func (c *Collector) RecordPublishSuccess(platform string) {
	c.publishSuccess.WithLabelValues(platform).Inc()
}

// RecordPublishFailure は公開失敗を理由付きで記録する。
func (c *Collector) RecordPublishFailure(platform string, reason string) {
	c.publishFail.WithLabelValues(platform, reason).Inc()
}

// RecordUnsupportedAttempt は未対応プラットフォームへの公開試行を記録する。
func (c *Collector) RecordUnsupportedAttempt(platform string) {
	c.unsupportedAttempt.WithLabelValues(platform).Inc()
}

// RecordTokenRefreshSuccess はトークンリフレッシュ成功を記録する。
func (c *Collector) RecordTokenRefreshSuccess(platform string) {
	c.tokenRefreshOK.WithLabelValues(platform).Inc()
}

// RecordTokenRefreshFailure はトークンリフレッシュ失敗を記録する。
func (c *Collector) RecordTokenRefreshFailure(platform string) {
	c.tokenRefreshFail.WithLabelValues(platform).Inc()
}

// RecordIdeasImported はフィード取込で作成されたアイデア数を記録する。
func (c *Collector) RecordIdeasImported(count int) {
	c.ideasImported.Add(float64(count))
}

// RecordRunDuration は公開実行の所要時間を記録する。
func (c *Collector) RecordRunDuration(duration time.Duration) {
	c.runDuration.Observe(duration.Seconds())
}

// RecordPlatformLatency はプラットフォームAPI呼び出しの所要時間を記録する。
func (c *Collector) RecordPlatformLatency(platform string, duration time.Duration) {
	c.platformLatency.WithLabelValues(platform).Observe(duration.Seconds())
}

// SetDuePreviews は公開対象プレビュー数を記録する。
func (c *Collector) SetDuePreviews(count int) {
	c.duePreviews.Set(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

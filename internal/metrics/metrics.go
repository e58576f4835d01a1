// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// エンリッチメント結果のラベル値。
const (
	EnrichResultEnriched  = "enriched"
	EnrichResultAbandoned = "abandoned"
	EnrichResultFailed    = "failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// キュー、スケジューラ、エンリッチメントパイプラインから利用する。
type MetricsCollector interface {
	SetQueueSize(queue string, size int)
	RecordQueueExecution(queue string)
	RecordQueueRejection(queue string)
	RecordQueueFailure(queue string)
	RecordSync(connectorType string, success bool)
	RecordSyncLatency(duration time.Duration)
	RecordPostInserted(connectorType string)
	RecordEnrichment(result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	queueSize       *prometheus.GaugeVec
	queueExecutions *prometheus.CounterVec
	queueRejections *prometheus.CounterVec
	queueFailures   *prometheus.CounterVec
	syncTotal       *prometheus.CounterVec
	syncLatency     prometheus.Histogram
	postsInserted   *prometheus.CounterVec
	enrichTotal     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		queueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feedsync_queue_size",
			Help: "キューの現在のバックログ件数",
		}, []string{"queue"}),
		queueExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_queue_executions_total",
			Help: "キューで実行を開始したアイテムの合計数",
		}, []string{"queue"}),
		queueRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_queue_rejections_total",
			Help: "キューが満杯のため破棄されたアイテムの合計数",
		}, []string{"queue"}),
		queueFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_queue_item_failures_total",
			Help: "キューのアイテム処理で失敗した合計数",
		}, []string{"queue"}),
		syncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_sync_total",
			Help: "コネクタ同期の実行数",
		}, []string{"connector_type", "result"}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedsync_sync_latency_seconds",
			Help:    "コネクタ同期（キュー投入まで）のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		postsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_posts_inserted_total",
			Help: "新規に保存された投稿の合計数",
		}, []string{"connector_type"}),
		enrichTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_enrich_total",
			Help: "エンリッチメント処理の結果別件数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.queueSize,
		c.queueExecutions,
		c.queueRejections,
		c.queueFailures,
		c.syncTotal,
		c.syncLatency,
		c.postsInserted,
		c.enrichTotal,
	)

	return c
}

// SetQueueSize はキューの現在サイズを記録する。
func (c *Collector) SetQueueSize(queue string, size int) {
	c.queueSize.WithLabelValues(queue).Set(float64(size))
}

// RecordQueueExecution はキューの実行開始を記録する。
func (c *Collector) RecordQueueExecution(queue string) {
	c.queueExecutions.WithLabelValues(queue).Inc()
}

// RecordQueueRejection はキューの投入拒否を記録する。
func (c *Collector) RecordQueueRejection(queue string) {
	c.queueRejections.WithLabelValues(queue).Inc()
}

// RecordQueueFailure はキューのアイテム処理失敗を記録する。
func (c *Collector) RecordQueueFailure(queue string) {
	c.queueFailures.WithLabelValues(queue).Inc()
}

// RecordSync はコネクタ同期の結果を記録する。
func (c *Collector) RecordSync(connectorType string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.syncTotal.WithLabelValues(connectorType, result).Inc()
}

// RecordSyncLatency は同期のレイテンシを記録する。
func (c *Collector) RecordSyncLatency(duration time.Duration) {
	c.syncLatency.Observe(duration.Seconds())
}

// RecordPostInserted は新規投稿の保存を記録する。
func (c *Collector) RecordPostInserted(connectorType string) {
	c.postsInserted.WithLabelValues(connectorType).Inc()
}

// RecordEnrichment はエンリッチメント結果を記録する。
func (c *Collector) RecordEnrichment(result string) {
	c.enrichTotal.WithLabelValues(result).Inc()
}

// NopCollector は何も記録しないMetricsCollector。
// テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) SetQueueSize(string, int)        {}
func (NopCollector) RecordQueueExecution(string)     {}
func (NopCollector) RecordQueueRejection(string)     {}
func (NopCollector) RecordQueueFailure(string)       {}
func (NopCollector) RecordSync(string, bool)         {}
func (NopCollector) RecordSyncLatency(time.Duration) {}
func (NopCollector) RecordPostInserted(string)       {}
func (NopCollector) RecordEnrichment(string)         {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカーモードでPrometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var _ MetricsCollector = (*Collector)(nil)
var _ MetricsCollector = NopCollector{}

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
// 永続化アダプタ、認証サービス、ワーカーから利用する。
type MetricsCollector interface {
	ObserveAdapterOperation(op string, outcome string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordSignInEmailSent()
	RecordSignIn(result string)
	RecordCleanupDeleted(kind string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	adapterOps     *prometheus.CounterVec
	adapterLatency *prometheus.HistogramVec
	httpStatus     *prometheus.CounterVec
	signInEmails   prometheus.Counter
	signIns        *prometheus.CounterVec
	cleanupDeleted *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		adapterOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twin_auth_adapter_operations_total",
			Help: "認証アダプタ操作の結果別の合計数",
		}, []string{"op", "outcome"}),
		adapterLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "twin_auth_adapter_operation_duration_seconds",
			Help:    "認証アダプタ操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twin_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		signInEmails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twin_signin_emails_sent_total",
			Help: "送信したサインインメールの合計数",
		}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twin_signin_total",
			Help: "サインイン完了処理の結果別の合計数",
		}, []string{"result"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twin_cleanup_deleted_total",
			Help: "クリーンアップで削除した期限切れレコードの合計数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.adapterOps,
		c.adapterLatency,
		c.httpStatus,
		c.signInEmails,
		c.signIns,
		c.cleanupDeleted,
	)

	return c
}

// ObserveAdapterOperation はアダプタ操作の結果とレイテンシを記録する。
func (c *Collector) ObserveAdapterOperation(op string, outcome string, duration time.Duration) {
	c.adapterOps.WithLabelValues(op, outcome).Inc()
	c.adapterLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSignInEmailSent はサインインメールの送信を記録する。
func (c *Collector) RecordSignInEmailSent() {
	c.signInEmails.Inc()
}

// RecordSignIn はサインイン完了処理の結果（success / invalid_token など）を記録する。
func (c *Collector) RecordSignIn(result string) {
	c.signIns.WithLabelValues(result).Inc()
}

// RecordCleanupDeleted はクリーンアップで削除した件数を種別ごとに記録する。
func (c *Collector) RecordCleanupDeleted(kind string, count int64) {
	c.cleanupDeleted.WithLabelValues(kind).Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 収集中のエラーはレスポンスに含めず、取得できたメトリクスのみを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

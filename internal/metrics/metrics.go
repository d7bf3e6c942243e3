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
// 認証サービス、認可マトリクス、ミドルウェアから利用する。
type MetricsCollector interface {
	RecordLoginOutcome(outcome string)
	RecordTokenRejection(code string)
	RecordAuthzDenied(action, role string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginOutcome   *prometheus.CounterVec
	tokenRejected  *prometheus.CounterVec
	authzDenied    *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_login_attempts_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		tokenRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_token_rejected_total",
			Help: "理由別の拒否されたトークン数",
		}, []string{"code"}),
		authzDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_authz_denied_total",
			Help: "操作とロール別の認可拒否数",
		}, []string{"action", "role"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "studyhub_request_latency_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.loginOutcome,
		c.tokenRejected,
		c.authzDenied,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordLoginOutcome はログイン試行の結果を記録する。
func (c *Collector) RecordLoginOutcome(outcome string) {
	c.loginOutcome.WithLabelValues(outcome).Inc()
}

// RecordTokenRejection はトークン検証の失敗をエラーコード別に記録する。
func (c *Collector) RecordTokenRejection(code string) {
	c.tokenRejected.WithLabelValues(code).Inc()
}

// RecordAuthzDenied は認可拒否を記録する。
func (c *Collector) RecordAuthzDenied(action, role string) {
	c.authzDenied.WithLabelValues(action, role).Inc()
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

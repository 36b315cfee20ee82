// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 認証フローのメトリクスと HTTP ステータスを記録する。
type Collector struct {
	signIn          *prometheus.CounterVec
	refreshRotation *prometheus.CounterVec
	jwksFetch       *prometheus.CounterVec
	tokenExchange   *prometheus.HistogramVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loopin_signin_total",
			Help: "プロバイダ・結果別のサインイン数",
		}, []string{"provider", "result"}),
		refreshRotation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loopin_refresh_rotation_total",
			Help: "結果別のリフレッシュトークンローテーション数",
		}, []string{"result"}),
		jwksFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loopin_jwks_fetch_total",
			Help: "結果別のJWKS取得数",
		}, []string{"result"}),
		tokenExchange: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loopin_token_exchange_duration_seconds",
			Help:    "認可コード交換のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loopin_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.signIn,
		c.refreshRotation,
		c.jwksFetch,
		c.tokenExchange,
		c.httpStatus,
	)

	return c
}

// RecordSignIn はサインインの結果を記録する。
func (c *Collector) RecordSignIn(provider, result string) {
	c.signIn.WithLabelValues(provider, result).Inc()
}

// RecordRefreshRotation はリフレッシュトークンのローテーション結果を記録する。
func (c *Collector) RecordRefreshRotation(result string) {
	c.refreshRotation.WithLabelValues(result).Inc()
}

// RecordJWKSFetch はJWKS取得の結果を記録する。
func (c *Collector) RecordJWKSFetch(result string) {
	c.jwksFetch.WithLabelValues(result).Inc()
}

// ObserveTokenExchange はトークンエンドポイント呼び出しのレイテンシを記録する。
func (c *Collector) ObserveTokenExchange(provider string, duration time.Duration, result string) {
	c.tokenExchange.WithLabelValues(provider, result).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

package auth

import "time"

// Metrics は認証フローのメトリクス記録先。
// metrics.Collector が実装する。nil の場合は記録しない。
type Metrics interface {
	RecordSignIn(provider, result string)
	RecordRefreshRotation(result string)
	RecordJWKSFetch(result string)
	ObserveTokenExchange(provider string, duration time.Duration, result string)
}

type nopMetrics struct{}

func (nopMetrics) RecordSignIn(string, string) {}
func (nopMetrics) RecordRefreshRotation(string) {}
func (nopMetrics) RecordJWKSFetch(string) {}
func (nopMetrics) ObserveTokenExchange(string, time.Duration, string) {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

// メトリクスの result ラベル値
const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultError   = "error"
	resultReused  = "reused"
)

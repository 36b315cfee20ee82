package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は名前とラベルが一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordSignIn_CountsByProviderAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSignIn("kakao", "success")
	c.RecordSignIn("kakao", "success")
	c.RecordSignIn("apple", "failure")

	if got := findMetric(t, reg, "loopin_signin_total", map[string]string{"provider": "kakao", "result": "success"}).GetCounter().GetValue(); got != 2 {
		t.Errorf("kakao/success = %v, want 2", got)
	}
	if got := findMetric(t, reg, "loopin_signin_total", map[string]string{"provider": "apple", "result": "failure"}).GetCounter().GetValue(); got != 1 {
		t.Errorf("apple/failure = %v, want 1", got)
	}
}

func TestRecordRefreshRotation_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRefreshRotation("success")
	c.RecordRefreshRotation("reused")

	if got := findMetric(t, reg, "loopin_refresh_rotation_total", map[string]string{"result": "reused"}).GetCounter().GetValue(); got != 1 {
		t.Errorf("reused = %v, want 1", got)
	}
}

func TestRecordJWKSFetch_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordJWKSFetch("error")

	if got := findMetric(t, reg, "loopin_jwks_fetch_total", map[string]string{"result": "error"}).GetCounter().GetValue(); got != 1 {
		t.Errorf("error = %v, want 1", got)
	}
}

func TestObserveTokenExchange_RecordsHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveTokenExchange("google", 150*time.Millisecond, "success")
	c.ObserveTokenExchange("google", 250*time.Millisecond, "success")

	h := findMetric(t, reg, "loopin_token_exchange_duration_seconds", map[string]string{"provider": "google", "result": "success"}).GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if sum := h.GetSampleSum(); sum < 0.39 || sum > 0.41 {
		t.Errorf("sample sum = %v, want ~0.4", sum)
	}
}

func TestRecordHTTPStatus_CountsByStatusCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(401)
	c.RecordHTTPStatus(401)

	if got := findMetric(t, reg, "loopin_http_status_total", map[string]string{"status_code": "401"}).GetCounter().GetValue(); got != 2 {
		t.Errorf("401 = %v, want 2", got)
	}
}

// TestHandler_ServesMetrics はスクレイプ結果に記録済みメトリクスが含まれることを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordSignIn("kakao", "success")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !strings.Contains(string(body), `loopin_signin_total{provider="kakao",result="success"} 1`) {
		t.Errorf("body does not contain signin counter:\n%s", body)
	}
}

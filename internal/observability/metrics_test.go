package observability_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/go-tts-unlimited/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *observability.Metrics

	m.ObserveRequest("ok")
	m.IncInFlight()
	m.DecInFlight()
	m.ObserveRemoteCall("sse", "ok")
	m.ObserveRemoteLatency(time.Second)
	m.ObserveShape("bytes")
	m.IncTLSFallback()
	m.AddStoredBytes(10)
	m.AddTempFilesRemoved(1)
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg, "test")

	m.ObserveRequest("ok")
	m.ObserveRequest("ok")
	m.ObserveRequest("flagged")
	m.IncInFlight()
	m.IncInFlight()
	m.DecInFlight()
	m.ObserveRemoteCall("ws", "retry")
	m.ObserveShape("data_url")
	m.IncTLSFallback()
	m.AddStoredBytes(1024)
	m.AddTempFilesRemoved(0)
	m.AddTempFilesRemoved(3)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"requests ok", testutil.ToFloat64(m.Requests.WithLabelValues("ok")), 2},
		{"requests flagged", testutil.ToFloat64(m.Requests.WithLabelValues("flagged")), 1},
		{"in flight", testutil.ToFloat64(m.InFlight), 1},
		{"remote calls", testutil.ToFloat64(m.RemoteCalls.WithLabelValues("ws", "retry")), 1},
		{"shapes", testutil.ToFloat64(m.ResultShapes.WithLabelValues("data_url")), 1},
		{"tls fallbacks", testutil.ToFloat64(m.TLSFallbacks), 1},
		{"stored bytes", testutil.ToFloat64(m.StoredBytes), 1024},
		{"files removed", testutil.ToFloat64(m.TempFilesRemoved), 3},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v; want %v", c.name, c.got, c.want)
		}
	}
}

func TestMetricsHandlerExposesNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg, "ttsunlimited")
	m.ObserveRequest("ok")
	m.ObserveRemoteLatency(1500 * time.Millisecond)

	rec := httptest.NewRecorder()
	observability.MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`ttsunlimited_requests_total{outcome="ok"} 1`,
		"ttsunlimited_remote_call_duration_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNewMetricsTwiceOnSameRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	observability.NewMetrics(reg, "dup")

	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	observability.NewMetrics(reg, "dup")
}

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Requests         *prometheus.CounterVec
	InFlight         prometheus.Gauge
	RemoteCalls      *prometheus.CounterVec
	RemoteLatency    prometheus.Histogram
	ResultShapes     *prometheus.CounterVec
	TLSFallbacks     prometheus.Counter
	StoredBytes      prometheus.Counter
	TempFilesRemoved prometheus.Counter
}

// NewMetrics registers the service instruments on reg. Tests pass a fresh
// prometheus.NewRegistry so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Generation requests by outcome.",
		}, []string{"outcome"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Generation requests currently holding a worker slot.",
		}),
		RemoteCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote TTS call attempts by transport and result.",
		}, []string{"transport", "result"}),
		RemoteLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Latency of a full remote TTS call including retries.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		}),
		ResultShapes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_shapes_total",
			Help:      "Remote results by detected shape.",
		}, []string{"shape"}),
		TLSFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tls_fallbacks_total",
			Help:      "Audio downloads retried without TLS verification.",
		}),
		StoredBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stored_audio_bytes_total",
			Help:      "Bytes of audio written to temp files.",
		}),
		TempFilesRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "temp_files_removed_total",
			Help:      "Expired audio files deleted by the janitor.",
		}),
	}
}

func (m *Metrics) ObserveRequest(outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncInFlight() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) DecInFlight() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

func (m *Metrics) ObserveRemoteCall(transport, result string) {
	if m == nil {
		return
	}
	m.RemoteCalls.WithLabelValues(transport, result).Inc()
}

func (m *Metrics) ObserveRemoteLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.RemoteLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveShape(shape string) {
	if m == nil {
		return
	}
	m.ResultShapes.WithLabelValues(shape).Inc()
}

func (m *Metrics) IncTLSFallback() {
	if m == nil {
		return
	}
	m.TLSFallbacks.Inc()
}

func (m *Metrics) AddStoredBytes(n int) {
	if m == nil {
		return
	}
	m.StoredBytes.Add(float64(n))
}

func (m *Metrics) AddTempFilesRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TempFilesRemoved.Add(float64(n))
}

// MetricsHandler exposes g in the Prometheus text format.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

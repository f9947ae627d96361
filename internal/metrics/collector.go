// Package metrics exposes the engine's Prometheus surface: keyframe
// throughput, change-detector scores, dispatch in-flight state, and
// sink queue health. One Collector is created per process and shared
// across all sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry (not the global default one, so
// tests can construct throwaway instances without collisions) and the
// full set of engine gauges/counters/histograms.
type Collector struct {
	registry *prometheus.Registry

	KeyframesEmitted  *prometheus.CounterVec
	FramesDecoded     *prometheus.CounterVec
	DecodeErrors      *prometheus.CounterVec
	ChangeScore       *prometheus.HistogramVec
	DispatchInFlight  *prometheus.GaugeVec
	DispatchRetries   *prometheus.CounterVec
	DispatchLatency   *prometheus.HistogramVec
	SinkQueueDepth    *prometheus.GaugeVec
	SinkWritesDropped *prometheus.CounterVec
	RateLimitWaits    *prometheus.CounterVec
	SessionsActive    prometheus.Gauge
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{registry: reg}

	c.KeyframesEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vce_keyframes_emitted_total",
		Help: "Keyframes accepted by the change detector, by trigger reason.",
	}, []string{"session_id", "reason"})
	reg.MustRegister(c.KeyframesEmitted)

	c.FramesDecoded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vce_frames_decoded_total",
		Help: "Frames successfully decoded from a source.",
	}, []string{"session_id"})
	reg.MustRegister(c.FramesDecoded)

	c.DecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vce_decode_errors_total",
		Help: "Recoverable decode failures on a live source.",
	}, []string{"session_id"})
	reg.MustRegister(c.DecodeErrors)

	c.ChangeScore = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vce_change_score",
		Help:    "Combined change-detector score of every accepted keyframe.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	}, []string{"session_id"})
	reg.MustRegister(c.ChangeScore)

	c.DispatchInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vce_dispatch_in_flight",
		Help: "1 if a Describing or Evaluating call is currently in flight for a session.",
	}, []string{"session_id", "kind"})
	reg.MustRegister(c.DispatchInFlight)

	c.DispatchRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vce_dispatch_retries_total",
		Help: "Retries against the VLM or evaluator, by kind.",
	}, []string{"session_id", "kind"})
	reg.MustRegister(c.DispatchRetries)

	c.DispatchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vce_dispatch_latency_seconds",
		Help:    "Latency of a completed Describing or Evaluating call.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	reg.MustRegister(c.DispatchLatency)

	c.SinkQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vce_sink_queue_depth",
		Help: "Current depth of the keyframe sink's async write queue.",
	}, []string{"session_id"})
	reg.MustRegister(c.SinkQueueDepth)

	c.SinkWritesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vce_sink_writes_dropped_total",
		Help: "Pending disk writes dropped due to queue overflow.",
	}, []string{"session_id"})
	reg.MustRegister(c.SinkWritesDropped)

	c.RateLimitWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vce_rate_limit_waits_total",
		Help: "Times Dispatch blocked on the provider token bucket.",
	}, []string{"bucket"})
	reg.MustRegister(c.RateLimitWaits)

	c.SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vce_sessions_active",
		Help: "Number of sessions currently running.",
	})
	reg.MustRegister(c.SessionsActive)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetInFlight, IncRetry, and ObserveLatency satisfy dispatch.MetricsRecorder,
// letting a *Collector be wired straight into an Engine via SetMetrics
// without an adapter type. All three are nil-receiver safe so callers can
// pass along an optional *Collector field without a guard at the call site.
func (c *Collector) SetInFlight(sessionID, kind string, v float64) {
	if c == nil {
		return
	}
	c.DispatchInFlight.WithLabelValues(sessionID, kind).Set(v)
}

func (c *Collector) IncRetry(sessionID, kind string) {
	if c == nil {
		return
	}
	c.DispatchRetries.WithLabelValues(sessionID, kind).Inc()
}

func (c *Collector) ObserveLatency(kind string, seconds float64) {
	if c == nil {
		return
	}
	c.DispatchLatency.WithLabelValues(kind).Observe(seconds)
}

// SetQueueDepth and IncWritesDropped satisfy keyframesink.MetricsRecorder.
func (c *Collector) SetQueueDepth(sessionID string, depth float64) {
	if c == nil {
		return
	}
	c.SinkQueueDepth.WithLabelValues(sessionID).Set(depth)
}

func (c *Collector) IncWritesDropped(sessionID string) {
	if c == nil {
		return
	}
	c.SinkWritesDropped.WithLabelValues(sessionID).Inc()
}

// IncWait satisfies ratelimit.MetricsRecorder.
func (c *Collector) IncWait(bucket string) {
	if c == nil {
		return
	}
	c.RateLimitWaits.WithLabelValues(bucket).Inc()
}

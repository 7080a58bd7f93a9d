package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"gatewayd/internal/engine"
	"gatewayd/internal/gateway"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewayd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gatewayd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gatewayd",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight HTTP requests",
		},
		[]string{"path"},
	)

	backpressureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewayd",
			Subsystem: "http",
			Name:      "backpressure_total",
			Help:      "Total backpressure rejections (429)",
		},
		[]string{"reason"},
	)

	chatCompletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewayd",
			Name:      "chat_completions_total",
			Help:      "Chat completions by model, mode and outcome kind (ok or an error kind)",
		},
		[]string{"model", "mode", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInflight, backpressureTotal, chatCompletionsTotal)
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streaming through the recorder.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// MetricsMiddleware instruments requests for Prometheus
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inflightPath := r.URL.Path
		httpInflight.WithLabelValues(inflightPath).Inc()
		defer httpInflight.WithLabelValues(inflightPath).Dec()

		sr := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sr, r)
		// The route pattern is only known once chi routed the request.
		path := routePatternOrPath(r)
		statusLabel := itoa(sr.status)
		dur := time.Since(start).Seconds()
		httpRequestsTotal.WithLabelValues(path, r.Method, statusLabel).Inc()
		httpRequestDuration.WithLabelValues(path, r.Method, statusLabel).Observe(dur)
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// IncrementBackpressure is called when returning 429 to the client
func IncrementBackpressure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	backpressureTotal.WithLabelValues(reason).Inc()
}

func observeChat(model string, stream bool, err error) {
	mode := "buffered"
	if stream {
		mode = "stream"
	}
	outcome := "ok"
	if err != nil {
		outcome = string(gateway.KindOf(err))
	}
	chatCompletionsTotal.WithLabelValues(model, mode, outcome).Inc()
}

// fast integer to ascii for small set of status codes
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// gatewayCollector exports the replica's live state on every scrape: the
// in-flight counter, per-model handle states and the engine counters of
// ready models.
type gatewayCollector struct {
	svc     Service
	timeout time.Duration

	inflight    *prometheus.Desc
	maxOngoing  *prometheus.Desc
	modelState  *prometheus.Desc
	initAttempt *prometheus.Desc
	queueDepth  *prometheus.Desc
	active      *prometheus.Desc
	throughput  *prometheus.Desc
	requests    *prometheus.Desc
	tokens      *prometheus.Desc
}

var modelStates = []string{
	gateway.StateUninitialized.String(),
	gateway.StateInitializing.String(),
	gateway.StateReady.String(),
	gateway.StateFailed.String(),
}

func newGatewayCollector(svc Service, timeout time.Duration) *gatewayCollector {
	model := []string{"model"}
	return &gatewayCollector{
		svc:         svc,
		timeout:     timeout,
		inflight:    prometheus.NewDesc("gatewayd_inflight_requests", "Chat completions currently holding an in-flight slot", nil, nil),
		maxOngoing:  prometheus.NewDesc("gatewayd_max_ongoing_requests", "Per-replica admission limit (0 = unlimited)", nil, nil),
		modelState:  prometheus.NewDesc("gatewayd_model_state", "1 for the current lifecycle state of each model", []string{"model", "state"}, nil),
		initAttempt: prometheus.NewDesc("gatewayd_model_init_attempts_total", "Initialization attempts per model", model, nil),
		queueDepth:  prometheus.NewDesc("gatewayd_engine_queue_depth", "Requests waiting for their first token", model, nil),
		active:      prometheus.NewDesc("gatewayd_engine_active_requests", "Requests being generated", model, nil),
		throughput:  prometheus.NewDesc("gatewayd_engine_throughput_tokens_per_second", "Average generated tokens per second", model, nil),
		requests:    prometheus.NewDesc("gatewayd_engine_requests_total", "Generations started by the engine", model, nil),
		tokens:      prometheus.NewDesc("gatewayd_engine_generated_tokens_total", "Tokens generated by the engine", model, nil),
	}
}

func (c *gatewayCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.inflight, c.maxOngoing, c.modelState, c.initAttempt, c.queueDepth, c.active, c.throughput, c.requests, c.tokens} {
		ch <- d
	}
}

func (c *gatewayCollector) Collect(ch chan<- prometheus.Metric) {
	load := c.svc.Load()
	ch <- prometheus.MustNewConstMetric(c.inflight, prometheus.GaugeValue, float64(load.InFlight))
	ch <- prometheus.MustNewConstMetric(c.maxOngoing, prometheus.GaugeValue, float64(load.MaxOngoingRequests))

	for _, in := range c.svc.Status().Instances {
		for _, s := range modelStates {
			v := 0.0
			if in.State == s {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.modelState, prometheus.GaugeValue, v, in.ModelID, s)
		}
		ch <- prometheus.MustNewConstMetric(c.initAttempt, prometheus.CounterValue, float64(in.InitAttempts), in.ModelID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	for model, ct := range c.svc.EngineCounters(ctx) {
		c.collectEngine(ch, model, ct)
	}
}

func (c *gatewayCollector) collectEngine(ch chan<- prometheus.Metric, model string, ct engine.Counters) {
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(ct.QueueDepth), model)
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(ct.ActiveRequests), model)
	ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, ct.ThroughputTPS, model)
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(ct.RequestsTotal), model)
	ch <- prometheus.MustNewConstMetric(c.tokens, prometheus.CounterValue, float64(ct.GeneratedTokens), model)
}

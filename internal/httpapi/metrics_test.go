package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatewayd/internal/engine"
	"gatewayd/pkg/types"
)

// TestMetricsMiddleware_UsesRoutePattern ensures the metrics middleware labels
// by the chi route pattern instead of the raw URL path.
func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rr.Code)
	}

	mrr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := mrr.Body.Bytes()
	if !bytes.Contains(body, []byte(`gatewayd_http_requests_total{method="GET",path="/items/{id}",status="418"}`)) {
		t.Fatalf("expected route pattern label; got: %q", firstLines(string(body), 20))
	}
	if bytes.Contains(body, []byte(`path="/items/42"`)) {
		t.Fatalf("raw path leaked into labels")
	}
}

func TestIncrementBackpressure(t *testing.T) {
	IncrementBackpressure("")
	IncrementBackpressure("max_ongoing_requests")
	mrr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := mrr.Body.String()
	for _, want := range []string{`gatewayd_http_backpressure_total{reason="unspecified"}`, `gatewayd_http_backpressure_total{reason="max_ongoing_requests"}`} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s", want)
		}
	}
}

func TestStatusRecorderFlushes(t *testing.T) {
	rr := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rr, status: 200}
	sr.WriteHeader(http.StatusAccepted)
	sr.Flush()
	if sr.status != http.StatusAccepted || !rr.Flushed {
		t.Fatalf("status=%d flushed=%v", sr.status, rr.Flushed)
	}
}

func TestItoa(t *testing.T) {
	for n, want := range map[int]string{0: "0", 7: "7", 200: "200", 499: "499", 503: "503"} {
		if got := itoa(n); got != want {
			t.Fatalf("itoa(%d)=%q", n, got)
		}
	}
}

func TestMetricsEndpointExportsGatewayState(t *testing.T) {
	svc := &stubService{
		load: types.LoadResponse{InFlight: 4, MaxOngoingRequests: 15},
		status: types.StatusResponse{Instances: []types.InstanceStatus{
			{ModelID: "m1", State: "ready", InitAttempts: 1},
			{ModelID: "m2", State: "failed", InitAttempts: 3},
		}},
		counters: map[string]engine.Counters{
			"m1": {QueueDepth: 2, ActiveRequests: 3, RequestsTotal: 10, GeneratedTokens: 120, ThroughputTPS: 1.5},
		},
	}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		"gatewayd_inflight_requests 4",
		"gatewayd_max_ongoing_requests 15",
		`gatewayd_model_state{model="m1",state="ready"} 1`,
		`gatewayd_model_state{model="m1",state="failed"} 0`,
		`gatewayd_model_state{model="m2",state="failed"} 1`,
		`gatewayd_model_init_attempts_total{model="m2"} 3`,
		`gatewayd_engine_queue_depth{model="m1"} 2`,
		`gatewayd_engine_active_requests{model="m1"} 3`,
		`gatewayd_engine_requests_total{model="m1"} 10`,
		`gatewayd_engine_generated_tokens_total{model="m1"} 120`,
		`gatewayd_engine_throughput_tokens_per_second{model="m1"} 1.5`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, firstLines(body, 60))
		}
	}
	if strings.Contains(body, `gatewayd_engine_queue_depth{model="m2"}`) {
		t.Fatalf("engines without counters must be omitted")
	}
}

func TestChatCompletionsCounter(t *testing.T) {
	rep := startReplica(t, echoModel("counted", "x", nil))
	h := NewMux(rep)
	if w := postChat(t, h, chatBody("counted", false)); w.Code != http.StatusOK {
		t.Fatalf("chat status=%d", w.Code)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `gatewayd_chat_completions_total{mode="buffered",model="counted",outcome="ok"} 1`
	if !strings.Contains(w.Body.String(), want) {
		t.Fatalf("missing %q", want)
	}
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

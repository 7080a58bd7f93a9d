package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTracingPropagatesTraceParent(t *testing.T) {
	InitPropagator()
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	w := httptest.NewRecorder()
	NewMux(&stubService{}).ServeHTTP(w, req)
	if got := w.Header().Get("X-Trace-ID"); got != traceID {
		t.Fatalf("X-Trace-ID=%q", got)
	}
	if tp := w.Header().Get("traceparent"); !strings.Contains(tp, traceID) {
		t.Fatalf("traceparent=%q", tp)
	}
}

func TestTracingWithoutParent(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&stubService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

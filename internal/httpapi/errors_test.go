package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"gatewayd/internal/gateway"
)

func TestErrorDetail_GatewayError(t *testing.T) {
	err := fmt.Errorf("route: %w", gateway.ErrModelNotFound("x", []string{"a", "b"}))
	d := errorDetail(err)
	if d.Code != http.StatusNotFound || d.Type != "model_not_found" || d.Class != "not_found" || len(d.KnownModels) != 2 {
		t.Fatalf("detail=%+v", d)
	}
}

func TestErrorDetail_ByStatus(t *testing.T) {
	cases := []struct {
		code  int
		typ   string
		class string
	}{
		{http.StatusBadRequest, "invalid_request", "bad_request"},
		{http.StatusUnsupportedMediaType, "invalid_request", "bad_request"},
		{http.StatusTooManyRequests, "too_busy", "too_many_requests"},
		{http.StatusServiceUnavailable, "engine_unavailable", "unavailable"},
		{http.StatusBadGateway, "internal_error", "internal"},
	}
	for _, c := range cases {
		d := errorDetail(mockHTTPError{msg: "x", code: c.code})
		if d.Code != c.code || d.Type != c.typ || d.Class != c.class {
			t.Fatalf("code %d -> %+v", c.code, d)
		}
	}
}

func TestWriteJSONError_Shape(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSONError(w, http.StatusBadRequest, "bad")
	if w.Code != http.StatusBadRequest || w.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("status=%d ct=%q", w.Code, w.Header().Get("Content-Type"))
	}
	d := decodeError(t, w.Body.Bytes())
	if d.Message != "bad" || d.Code != 400 {
		t.Fatalf("detail=%+v", d)
	}
}

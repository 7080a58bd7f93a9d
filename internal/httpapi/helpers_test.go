package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"gatewayd/internal/engine"
	"gatewayd/internal/gateway"
	"gatewayd/internal/orchestrator"
	"gatewayd/pkg/types"
)

func init() {
	SetLogger(zerolog.Nop())
}

func echoModel(id, reply string, extra map[string]any) types.ModelSpec {
	p := map[string]any{"reply": reply}
	for k, v := range extra {
		p[k] = v
	}
	return types.ModelSpec{ID: id, Kind: "echo", Params: p}
}

// startReplica serves models from a started replica; it is stopped on cleanup.
func startReplica(t *testing.T, models ...types.ModelSpec) *orchestrator.Replica {
	t.Helper()
	l := zerolog.Nop()
	rep, err := orchestrator.NewReplica(orchestrator.Config{
		Models:   models,
		Scaling:  orchestrator.DefaultScaling(),
		InitMode: gateway.InitLazy,
		Logger:   &l,
	})
	if err != nil {
		t.Fatalf("new replica: %v", err)
	}
	if err := rep.Start(context.Background()); err != nil {
		t.Fatalf("start replica: %v", err)
	}
	t.Cleanup(func() { _ = rep.Stop(context.Background()) })
	return rep
}

func postChat(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func chatBody(model string, stream bool) types.ChatCompletionRequest {
	return types.ChatCompletionRequest{
		Model:    model,
		Stream:   stream,
		Messages: []types.Message{{Role: "user", Content: "say something"}},
	}
}

// sseEvents splits an SSE body into its data payloads.
func sseEvents(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	for _, ev := range strings.Split(body, "\n\n") {
		ev = strings.TrimSpace(ev)
		if ev == "" {
			continue
		}
		if !strings.HasPrefix(ev, "data: ") {
			t.Fatalf("malformed event %q", ev)
		}
		out = append(out, strings.TrimPrefix(ev, "data: "))
	}
	return out
}

func decodeError(t *testing.T, b []byte) types.ErrorDetail {
	t.Helper()
	var er types.ErrorResponse
	if err := json.Unmarshal(b, &er); err != nil {
		t.Fatalf("decode error body %q: %v", b, err)
	}
	return er.Error
}

// stubService returns fixed answers; Route fails with routeErr.
type stubService struct {
	routeErr error
	ready    bool
	health   types.HealthResponse
	status   types.StatusResponse
	load     types.LoadResponse
	models   []types.ModelCard
	counters map[string]engine.Counters
}

func (s *stubService) Route(ctx context.Context, req types.ChatCompletionRequest) (gateway.Result, error) {
	return gateway.Result{}, s.routeErr
}
func (s *stubService) Models(ctx context.Context) []types.ModelCard   { return s.models }
func (s *stubService) Health(ctx context.Context) types.HealthResponse { return s.health }
func (s *stubService) Ready() bool                                     { return s.ready }
func (s *stubService) Status() types.StatusResponse                    { return s.status }
func (s *stubService) Load() types.LoadResponse                        { return s.load }
func (s *stubService) EngineCounters(ctx context.Context) map[string]engine.Counters {
	return s.counters
}

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

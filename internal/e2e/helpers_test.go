package e2e

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"gatewayd/internal/ctl"
	"gatewayd/internal/gateway"
	"gatewayd/internal/httpapi"
	"gatewayd/internal/orchestrator"
	"gatewayd/pkg/types"
)

func init() {
	httpapi.SetLogger(zerolog.Nop())
}

// newGateway starts a replica over models and serves it; both are torn down
// on cleanup.
func newGateway(t *testing.T, mode gateway.InitMode, models ...types.ModelSpec) (*httptest.Server, *orchestrator.Replica) {
	t.Helper()
	return newGatewayWith(t, mode, orchestrator.DefaultScaling(), models...)
}

func newGatewayLimited(t *testing.T, maxOngoing int, models ...types.ModelSpec) (*httptest.Server, *orchestrator.Replica) {
	t.Helper()
	sc := orchestrator.DefaultScaling()
	sc.MaxOngoingRequests = maxOngoing
	return newGatewayWith(t, gateway.InitEager, sc, models...)
}

func newGatewayWith(t *testing.T, mode gateway.InitMode, sc orchestrator.ScalingConfig, models ...types.ModelSpec) (*httptest.Server, *orchestrator.Replica) {
	t.Helper()
	l := zerolog.Nop()
	rep, err := orchestrator.NewReplica(orchestrator.Config{
		Models:   models,
		Scaling:  sc,
		InitMode: mode,
		Logger:   &l,
	})
	if err != nil {
		t.Fatalf("new replica: %v", err)
	}
	if err := rep.Start(context.Background()); err != nil {
		t.Fatalf("start replica: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(rep))
	t.Cleanup(func() {
		srv.Close()
		_ = rep.Stop(context.Background())
	})
	return srv, rep
}

func echo(id string, params map[string]any) types.ModelSpec {
	return types.ModelSpec{ID: id, Kind: "echo", Params: params}
}

func chat(model string, stream bool) types.ChatCompletionRequest {
	return types.ChatCompletionRequest{
		Model:    model,
		Stream:   stream,
		Messages: []types.Message{{Role: "user", Content: "hello"}},
	}
}

func client(srv *httptest.Server) *ctl.Client {
	return ctl.NewClient(srv.URL, 0)
}

func httpPostJSON(t *testing.T, ctx context.Context, url string, payload any) *http.Response {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	return resp
}

// readEvents returns the data payloads of an SSE body.
func readEvents(t *testing.T, body io.Reader) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}

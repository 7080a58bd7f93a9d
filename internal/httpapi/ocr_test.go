package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewayd/internal/gateway"
	"gatewayd/pkg/types"
)

// recordingService keeps the last routed request and answers with reply.
type recordingService struct {
	stubService
	got   types.ChatCompletionRequest
	reply string
}

func (s *recordingService) Route(ctx context.Context, req types.ChatCompletionRequest) (gateway.Result, error) {
	s.got = req
	return gateway.Result{Completion: &types.ChatCompletionResponse{
		Object:  "chat.completion",
		Model:   "ocr",
		Choices: []types.Choice{{Message: types.Message{Role: "assistant", Content: s.reply}, FinishReason: "stop"}},
	}}, nil
}

func postOCR(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func ocrBody(t *testing.T, in types.OCRRequest) string {
	t.Helper()
	b, err := json.Marshal(in)
	require.NoError(t, err)
	return string(b)
}

var pixel = base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n"))

func TestOCRMapsToGreedyImageCompletion(t *testing.T) {
	svc := &recordingService{reply: "INVOICE 42"}
	w := postOCR(t, NewMux(svc), "/v1/ocr", ocrBody(t, types.OCRRequest{
		Model:       "ocr",
		Prompt:      "<image> Free OCR.",
		ImageBase64: pixel,
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out types.OCRResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, types.OCRResponse{Model: "ocr", TextOutput: "INVOICE 42"}, out)

	got := svc.got
	assert.Equal(t, "ocr", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, types.Message{Role: "user", Content: "<image> Free OCR."}, got.Messages[0])
	require.NotNil(t, got.Temperature)
	assert.Zero(t, *got.Temperature)
	require.NotNil(t, got.Multimodal)
	assert.Equal(t, "image", got.Multimodal.Kind)
	assert.Equal(t, pixel, got.Multimodal.Data)
}

func TestOCRUnversionedAlias(t *testing.T) {
	svc := &recordingService{reply: "ok"}
	w := postOCR(t, NewMux(svc), "/ocr", ocrBody(t, types.OCRRequest{Prompt: "read", ImageBase64: pixel}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"text_output":"ok"`)
}

func TestOCRAgainstReplica(t *testing.T) {
	rep := startReplica(t, echoModel("ocr", "recognized text", nil))
	h := NewMux(rep)

	w := postOCR(t, h, "/v1/ocr", ocrBody(t, types.OCRRequest{Model: "ocr", Prompt: "read", ImageBase64: "data:image/png;base64," + pixel}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out types.OCRResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "recognized text", out.TextOutput)
	assert.Equal(t, "ocr", out.Model)

	w = postOCR(t, h, "/v1/ocr", ocrBody(t, types.OCRRequest{Model: "ocr", Prompt: "read", ImageBase64: "not base64!"}))
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, string(gateway.KindInvalidRequest), decodeError(t, w.Body.Bytes()).Type)

	w = postOCR(t, h, "/v1/ocr", ocrBody(t, types.OCRRequest{Model: "missing", Prompt: "read", ImageBase64: pixel}))
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())

	assert.Zero(t, rep.Load().InFlight)
}

func TestOCRRejectsBadBodies(t *testing.T) {
	h := NewMux(&recordingService{})

	w := postOCR(t, h, "/v1/ocr", ocrBody(t, types.OCRRequest{Prompt: "read"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "image_base64")

	w = postOCR(t, h, "/v1/ocr", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/ocr", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "text/plain")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

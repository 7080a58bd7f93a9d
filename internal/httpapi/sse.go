package httpapi

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"gatewayd/pkg/types"
)

var errNoFlusher = errors.New("response writer does not support flushing")

// sseSink writes chunks as server-sent events, flushing each one so the
// client sees it before the next delta is requested from the engine.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlusher
	}
	return &sseSink{w: w, flusher: f}, nil
}

func (s *sseSink) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

func (s *sseSink) WriteChunk(c types.ChatCompletionChunk) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.event(b)
}

// writeError emits an in-band error event after the terminal chunk.
func (s *sseSink) writeError(d types.ErrorDetail) error {
	b, err := json.Marshal(types.ErrorResponse{Error: d})
	if err != nil {
		return err
	}
	return s.event(b)
}

func (s *sseSink) done() error { return s.event([]byte("[DONE]")) }

func (s *sseSink) event(data []byte) error {
	s.start()
	buf := make([]byte, 0, len(data)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	if _, err := s.w.Write(buf); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gatewayd/internal/gateway"
	"gatewayd/pkg/types"
)

// zlog is an optional structured logger. If unset, the global zerolog logger is used.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

func logger() *zerolog.Logger {
	if zlog != nil {
		return zlog
	}
	return &log.Logger
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = func() LogLevel {
	if v := os.Getenv("GATEWAYD_REQUEST_LOG"); v != "" {
		return parseLevel(v)
	}
	return LevelInfo
}()

// requestLogLevel honors ?log= and X-Log-Level overrides.
func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// logChatStart and logChatEnd bracket one chat completion.
func logChatStart(r *http.Request, lvl LogLevel, req types.ChatCompletionRequest) {
	if lvl < LevelInfo {
		return
	}
	z := logger().Info().Str("path", r.URL.Path).Str("model", req.Model).Bool("stream", req.Stream).Int("messages", len(req.Messages))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	z.Msg("chat start")
}

func logChatEnd(r *http.Request, lvl LogLevel, status int, start time.Time, err error) {
	if lvl == LevelOff || (lvl == LevelError && err == nil) {
		return
	}
	var z *zerolog.Event
	switch {
	case err == nil:
		z = logger().Info()
	case gateway.IsTransport(err):
		z = logger().Info().Err(err)
	default:
		z = logger().Error().Err(err).Str("kind", string(gateway.KindOf(err)))
	}
	z = z.Int("status", status).Dur("dur", time.Since(start))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	z.Msg("chat end")
}

// loggingSink logs every chunk before handing it to the wrapped sink. It is
// only installed for requests at LevelDebug, so it logs at info.
type loggingSink struct {
	next gateway.ChunkSink
	rid  string
	n    int
}

func (s *loggingSink) WriteChunk(c types.ChatCompletionChunk) error {
	s.n++
	z := logger().Info().Str("id", c.ID).Int("seq", s.n)
	if len(c.Choices) > 0 {
		z = z.Str("content", c.Choices[0].Delta.Content)
		if fr := c.Choices[0].FinishReason; fr != nil {
			z = z.Str("finish_reason", *fr)
		}
	}
	if s.rid != "" {
		z = z.Str("request_id", s.rid)
	}
	z.Msg("chunk>")
	return s.next.WriteChunk(c)
}

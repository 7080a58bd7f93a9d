package engine

import (
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"gatewayd/pkg/types"
)

// loadStats tracks per-engine counters. A request counts as queued until its
// first delta is emitted and as active until its producer returns.
type loadStats struct {
	started time.Time
	queued  atomic.Int64
	active  atomic.Int64
	total   atomic.Uint64
	tokens  atomic.Uint64
}

func newLoadStats() *loadStats { return &loadStats{started: time.Now()} }

// begin registers a new request and returns the hooks the producer calls on
// its first emitted token and on exit.
func (s *loadStats) begin() (firstToken func(), end func()) {
	s.total.Add(1)
	s.queued.Add(1)
	s.active.Add(1)
	var first atomic.Bool
	firstToken = func() {
		if first.CompareAndSwap(false, true) {
			s.queued.Add(-1)
		}
	}
	end = func() {
		firstToken()
		s.active.Add(-1)
	}
	return firstToken, end
}

func (s *loadStats) counters() Counters {
	c := Counters{
		QueueDepth:      int(s.queued.Load()),
		ActiveRequests:  int(s.active.Load()),
		RequestsTotal:   s.total.Load(),
		GeneratedTokens: s.tokens.Load(),
	}
	if el := time.Since(s.started).Seconds(); el > 0 {
		c.ThroughputTPS = float64(c.GeneratedTokens) / el
	}
	return c
}

// tokenize splits text into word pieces that keep their trailing whitespace,
// so concatenating the pieces yields text again.
func tokenize(text string) []string {
	var out []string
	start := 0
	inSpace := true
	for i, r := range text {
		sp := unicode.IsSpace(r)
		if !sp && inSpace && i > start && strings.TrimSpace(text[start:i]) != "" {
			out = append(out, text[start:i])
			start = i
		}
		inSpace = sp
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// renderPrompt flattens a conversation into a plain-text prompt ending with
// the assistant turn.
func renderPrompt(msgs []types.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("assistant: ")
	return b.String()
}

// lastUserContent returns the content of the last user message, or of the
// last message when no user message exists.
func lastUserContent(msgs []types.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}

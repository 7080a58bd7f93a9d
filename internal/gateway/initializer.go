package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const defaultInitTimeout = 10 * time.Minute

// Initializer moves handles from Uninitialized or Failed to Ready. Concurrent
// callers on one handle share a single Engine.Initialize call and all observe
// its outcome.
type Initializer struct {
	timeout time.Duration
	pub     EventPublisher
	log     zerolog.Logger
}

// NewInitializer returns an initializer that bounds every attempt by timeout.
func NewInitializer(timeout time.Duration, pub EventPublisher, log zerolog.Logger) *Initializer {
	if timeout <= 0 {
		timeout = defaultInitTimeout
	}
	if pub == nil {
		pub = noopPublisher{}
	}
	return &Initializer{timeout: timeout, pub: pub, log: log}
}

// Ensure returns nil once h is Ready, initializing it if needed. A handle
// whose construction failed yields EngineUnavailable; a failed attempt
// yields InitializationError and leaves h Failed for a later retry.
//
// If ctx ends while waiting, Ensure returns a Timeout or TransportError; the
// shared attempt keeps running for the other waiters.
func (in *Initializer) Ensure(ctx context.Context, h *Handle) error {
	if h.Ready() {
		return nil
	}
	if h.ConstructFailed() {
		return errEngineUnavailable(h.id, h.LastError())
	}
	ch := h.flight.DoChan("init", func() (any, error) {
		return nil, in.run(h)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return errInitialization(h.id, res.Err)
		}
		return nil
	case <-ctx.Done():
		return errContext(ctx.Err())
	}
}

// run performs one attempt. It is only ever executed inside the handle's
// single flight.
func (in *Initializer) run(h *Handle) (err error) {
	if h.Ready() {
		return nil
	}
	attempt := h.attempts.Add(1)
	h.transition(StateInitializing, h.LastError())
	start := time.Now()
	in.log.Info().Str("model", h.id).Int64("attempt", attempt).Msg("init_start")
	in.pub.Publish(Event{Name: EventInitStart, ModelID: h.id, Fields: map[string]any{"attempt": attempt}})

	ctx, cancel := context.WithTimeout(context.Background(), in.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialize panic: %v", r)
		}
		dur := time.Since(start)
		if err != nil {
			h.transition(StateFailed, err)
			in.log.Warn().Str("model", h.id).Int64("attempt", attempt).Dur("dur", dur).Err(err).Msg("init_failed")
			in.pub.Publish(Event{Name: EventInitFailed, ModelID: h.id, Fields: map[string]any{"attempt": attempt, "error": err.Error()}})
			return
		}
		h.transition(StateReady, nil)
		in.log.Info().Str("model", h.id).Int64("attempt", attempt).Dur("dur", dur).Msg("init_ready")
		in.pub.Publish(Event{Name: EventInitReady, ModelID: h.id, Fields: map[string]any{"attempt": attempt, "dur_ms": dur.Milliseconds()}})
	}()
	return h.engine.Initialize(ctx)
}

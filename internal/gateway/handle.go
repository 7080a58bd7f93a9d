package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"gatewayd/internal/engine"
	"gatewayd/pkg/types"
)

// State is the lifecycle state of a Handle.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handle owns one engine and its lifecycle state. Membership in the Registry
// is fixed; only the state and the recorded error change.
type Handle struct {
	id     string
	spec   types.ModelSpec
	engine engine.Engine // nil when construction failed

	constructFailed bool
	state           atomic.Int32
	attempts        atomic.Int64

	mu      sync.Mutex
	lastErr error
	changed time.Time

	// flight serializes initializations; at most one is in progress.
	flight singleflight.Group
}

func newHandle(spec types.ModelSpec, eng engine.Engine, constructErr error) *Handle {
	h := &Handle{id: spec.ID, spec: spec, engine: eng, changed: time.Now()}
	if constructErr != nil {
		h.constructFailed = true
		h.lastErr = constructErr
		h.state.Store(int32(StateFailed))
	}
	return h
}

func (h *Handle) ID() string { return h.id }

// Spec returns the configuration the handle was built from.
func (h *Handle) Spec() types.ModelSpec { return h.spec }

// State loads the current state without locking.
func (h *Handle) State() State { return State(h.state.Load()) }

// Ready reports whether the engine finished initialization.
func (h *Handle) Ready() bool { return h.State() == StateReady }

// ConstructFailed reports whether the engine could not be constructed at all.
// Such handles are Failed forever.
func (h *Handle) ConstructFailed() bool { return h.constructFailed }

// Engine returns the engine, or nil when construction failed.
func (h *Handle) Engine() engine.Engine { return h.engine }

// InitAttempts returns the number of Initialize calls made so far.
func (h *Handle) InitAttempts() int64 { return h.attempts.Load() }

// LastError returns the recorded construction or initialization error.
func (h *Handle) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Changed returns the time of the last state transition.
func (h *Handle) Changed() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changed
}

func (h *Handle) transition(s State, err error) {
	h.mu.Lock()
	h.state.Store(int32(s))
	h.lastErr = err
	h.changed = time.Now()
	h.mu.Unlock()
}

// Status returns a snapshot suitable for /status.
func (h *Handle) Status() types.InstanceStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := types.InstanceStatus{
		ModelID:      h.id,
		Kind:         h.spec.Kind,
		State:        State(h.state.Load()).String(),
		InitAttempts: h.attempts.Load(),
		ChangedUnix:  h.changed.Unix(),
	}
	if h.lastErr != nil {
		st.LastError = h.lastErr.Error()
	}
	return st
}

package gateway

import (
	"sync"
	"sync/atomic"
)

// InFlight counts requests between admission and completion. It is the load
// signal polled by the orchestrator.
type InFlight struct {
	n     atomic.Int64
	limit int64
}

// NewInFlight returns a counter that admits at most limit requests; limit <= 0
// means unbounded.
func NewInFlight(limit int) *InFlight { return &InFlight{limit: int64(limit)} }

// TryAcquire takes a slot. The returned release func is safe to call more
// than once; only the first call decrements.
func (f *InFlight) TryAcquire() (release func(), ok bool) {
	for {
		cur := f.n.Load()
		if f.limit > 0 && cur >= f.limit {
			return nil, false
		}
		if f.n.CompareAndSwap(cur, cur+1) {
			break
		}
	}
	var once sync.Once
	return func() { once.Do(func() { f.n.Add(-1) }) }, true
}

// Load returns the current number of in-flight requests.
func (f *InFlight) Load() int64 { return f.n.Load() }

// Limit returns the admission limit (0 = unbounded).
func (f *InFlight) Limit() int { return int(f.limit) }

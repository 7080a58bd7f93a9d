package gateway

// Event represents a handle lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// Lifecycle event names.
const (
	EventInitStart  = "init_start"
	EventInitReady  = "init_ready"
	EventInitFailed = "init_failed"
	// EventConstructFailed is published by NewRegistry when an engine factory fails.
	EventConstructFailed = "construct_failed"
)

// EventPublisher receives lifecycle events. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

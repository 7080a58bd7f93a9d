// Package gateway multiplexes chat-completion requests over independently
// initialized engines. It is structured into small files by concern:
//
//   - handle.go: Handle and its lifecycle State.
//   - initializer.go: single-flight initialization of handles.
//   - registry.go: Registry built once from model specs; eager/lazy init modes.
//   - router.go: Router.Route, validation, admission and buffered assembly.
//   - bridge.go: ChunkStream, the streaming bridge to chat.completion.chunk.
//   - health.go: Reporter for health, model cards, counters and status.
//   - inflight.go: in-flight counter exposed to the orchestrator.
//   - errors.go: error kinds and predicates (IsModelNotFound, IsTooBusy, ...).
//   - events.go, eventpub_memory.go: lifecycle events.
//
// A handle moves Uninitialized -> Initializing -> Ready or Failed. Failed
// handles whose engine exists are retried by the next request; handles whose
// engine could not be constructed stay Failed and answer EngineUnavailable.
package gateway

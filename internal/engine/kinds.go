package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gatewayd/pkg/types"
)

// Factory constructs an engine for a spec. Construction must not perform
// expensive initialization; that belongs in Engine.Initialize.
type Factory func(spec types.ModelSpec) (Engine, error)

var (
	kindsMu sync.RWMutex
	kinds   = map[string]Factory{
		"echo":   NewEcho,
		"openai": NewOpenAI,
		"llama":  NewLlama,
	}
)

// Register installs or replaces the factory for kind.
func Register(kind string, f Factory) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[strings.ToLower(kind)] = f
}

// Kinds returns the registered kind names in sorted order.
func Kinds() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs the engine for spec using the factory of its kind.
func Build(spec types.ModelSpec) (Engine, error) {
	kind := strings.ToLower(strings.TrimSpace(spec.Kind))
	if kind == "" {
		return nil, errors.New("engine kind is empty")
	}
	kindsMu.RLock()
	f, ok := kinds[kind]
	kindsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown engine kind %q (known: %s)", spec.Kind, strings.Join(Kinds(), ", "))
	}
	return f(spec)
}

// dependencyUnavailableError signals a missing runtime dependency (e.g. the
// binary was built without llama support).
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var d dependencyUnavailableError
	return errors.As(err, &d)
}

// ErrNotInitialized is returned by Generate before a successful Initialize.
var ErrNotInitialized = errors.New("engine not initialized")

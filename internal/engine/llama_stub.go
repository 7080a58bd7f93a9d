//go:build !llama

package engine

import "gatewayd/pkg/types"

// NewLlama fails in binaries built without the llama tag.
func NewLlama(spec types.ModelSpec) (Engine, error) {
	return nil, ErrDependencyUnavailable("llama engine " + spec.ID + ": binary built without llama support (rebuild with -tags=llama)")
}

// Package catalog discovers local GGUF model files and turns them into
// llama model specs.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gatewayd/internal/common/fsutil"
	"gatewayd/pkg/types"
)

// KindLlama is the engine kind assigned to discovered files.
const KindLlama = "llama"

// LoadDir scans a directory for *.gguf files (case-insensitive) and returns
// one llama spec per file, sorted by id. The id is the file name without the
// extension; Path is absolute. params is copied into every spec.
func LoadDir(dir string, params map[string]any) ([]types.ModelSpec, error) {
	abs, err := fsutil.RequireDir(dir)
	if err != nil {
		return nil, fmt.Errorf("models dir: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var specs []types.ModelSpec
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if !strings.EqualFold(ext, ".gguf") {
			continue
		}
		specs = append(specs, types.ModelSpec{
			ID:     strings.TrimSuffix(name, ext),
			Kind:   KindLlama,
			Path:   filepath.Join(abs, name),
			Params: copyParams(params),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs, nil
}

// Merge appends discovered specs whose id is not already configured.
// Configured entries win; their order is kept.
func Merge(configured, discovered []types.ModelSpec) []types.ModelSpec {
	seen := make(map[string]bool, len(configured))
	out := make([]types.ModelSpec, 0, len(configured)+len(discovered))
	for _, s := range configured {
		seen[s.ID] = true
		out = append(out, s)
	}
	for _, s := range discovered {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out
}

func copyParams(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

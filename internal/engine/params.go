package engine

import (
	"fmt"
	"strconv"
	"time"
)

// defaultParams are conservative engine settings applied under the
// per-model params of every spec.
var defaultParams = map[string]any{
	"dtype":                  "float16",
	"max_model_len":          2048,
	"gpu_memory_utilization": 0.7,
	"max_num_seqs":           128,
	"seed":                   0,
}

// MergeParams returns the defaults overlaid with p. p is not modified.
func MergeParams(p map[string]any) map[string]any {
	out := make(map[string]any, len(defaultParams)+len(p))
	for k, v := range defaultParams {
		out[k] = v
	}
	for k, v := range p {
		out[k] = v
	}
	return out
}

func paramInt(p map[string]any, key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func paramFloat(p map[string]any, key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func paramString(p map[string]any, key, def string) string {
	if v, ok := p[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return def
}

func paramBool(p map[string]any, key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// paramDuration accepts Go duration strings ("250ms") or numbers of milliseconds.
func paramDuration(p map[string]any, key string, def time.Duration) time.Duration {
	switch v := p[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	}
	return def
}

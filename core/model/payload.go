package model

import (
	"encoding/json"

	"github.com/kilianp07/griddispatch/core/errs"
)

// Payload is the opaque, component-specific body of a dispatch. The engine
// never interprets it; it only bounds its size and nesting.
type Payload map[string]any

const (
	// MaxPayloadDepth bounds how deeply payload values may nest.
	MaxPayloadDepth = 5
	// MaxPayloadBytes bounds the encoded payload size.
	MaxPayloadBytes = 50 * 1024
)

// Validate rejects payloads that nest too deeply or encode too large.
func (p Payload) Validate() error {
	if p == nil {
		return nil
	}
	if d := depthOf(map[string]any(p)); d > MaxPayloadDepth {
		return errs.InvalidArgf("payload: nesting depth %d exceeds limit %d", d, MaxPayloadDepth)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return errs.InvalidArgf("payload: not encodable: %v", err)
	}
	if len(b) > MaxPayloadBytes {
		return errs.InvalidArgf("payload: encoded size %d exceeds limit %d", len(b), MaxPayloadBytes)
	}
	return nil
}

func depthOf(v any) int {
	switch t := v.(type) {
	case map[string]any:
		max := 0
		for _, child := range t {
			if d := depthOf(child); d > max {
				max = d
			}
		}
		return max + 1
	case []any:
		max := 0
		for _, child := range t {
			if d := depthOf(child); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 0
	}
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return Payload(cloneValue(map[string]any(p)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return t
	}
}

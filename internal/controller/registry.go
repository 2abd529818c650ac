package controller

import (
	"encoding/json"
	"fmt"
	"sync"

	"dbmflow/internal/pipeline"
)

// BuildFunc assembles one full pipeline for one ticket type. It returns
// the tree root plus the global data the engine hands to every activity.
type BuildFunc func(rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error)

// Registry maps persisted func keys to controller functions. The key is
// what goes into controller_info, so a restarted worker resolves the
// same function without any reflection.
type Registry struct {
	mu sync.RWMutex
	m  map[string]BuildFunc
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]BuildFunc{}}
}

// Register installs a controller function. Duplicate keys are a
// programming error and panic at init.
func (r *Registry) Register(funcKey string, fn BuildFunc) {
	if funcKey == "" {
		panic("controller: empty func key")
	}
	if fn == nil {
		panic("controller: nil build func for " + funcKey)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.m[funcKey]; dup {
		panic("controller: duplicate func key " + funcKey)
	}
	r.m[funcKey] = fn
}

// Build resolves the func key and assembles the pipeline. A missing key
// is an error for the caller to log and fail the flow with; it must
// never take the worker down.
func (r *Registry) Build(funcKey, rootID string, details json.RawMessage) (*pipeline.Node, map[string]any, error) {
	r.mu.RLock()
	fn, ok := r.m[funcKey]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("no controller registered for func key %q", funcKey)
	}
	return fn(rootID, details)
}

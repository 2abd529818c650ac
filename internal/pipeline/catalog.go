package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Input carries everything an activity may read: its static kwargs, the
// per-root-pipeline constants, and a snapshot of the scratchpad written by
// upstream activities. Activities must not keep state outside the
// returned outputs; anything needed after a suspension point has to go
// through the scratchpad.
type Input struct {
	RootID string
	NodeID string
	Kwargs map[string]any
	Global map[string]any
	Trans  map[string]any
}

// Service is one atomic operation. Outputs are merged into the pipeline
// scratchpad for downstream nodes. Non-idempotent services record the
// external id they created in their outputs so a compensating service can
// undo the effect.
type Service interface {
	Execute(ctx context.Context, in Input) (map[string]any, error)
}

// Compensator is implemented by services that can undo their own effect
// on pipeline revoke.
type Compensator interface {
	Compensate(ctx context.Context, in Input) error
}

// Registry maps component codes to services. Registration happens at
// process init; a duplicate code is a programming error and panics.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Service
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]Service{}}
}

func (r *Registry) Register(code string, svc Service) {
	if code == "" {
		panic("pipeline: empty component code")
	}
	if svc == nil {
		panic("pipeline: nil service for " + code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.m[code]; dup {
		panic("pipeline: duplicate component " + code)
	}
	r.m[code] = svc
}

func (r *Registry) Resolve(code string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.m[code]
	if !ok {
		return nil, fmt.Errorf("unknown component %q", code)
	}
	return svc, nil
}

func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.m))
	for code := range r.m {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// JobPayload is the structured work order handed to the job-execution
// sidecar. The core never runs commands on database hosts itself.
type JobPayload struct {
	JobType   string         `json:"job_type"`
	RootID    string         `json:"root_id"`
	NodeID    string         `json:"node_id"`
	BkCloudID int64          `json:"bk_cloud_id"`
	IPs       []string       `json:"ips,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// JobDispatcher forwards job payloads to the sidecar.
type JobDispatcher interface {
	Dispatch(ctx context.Context, payload JobPayload) (string, error)
}

// ErrMissingKwarg reports a required static kwarg the controller failed
// to bind.
var ErrMissingKwarg = errors.New("missing kwarg")

func stringKwarg(in Input, key string) (string, error) {
	if v, ok := in.Kwargs[key].(string); ok && v != "" {
		return v, nil
	}
	// Fall back to global data for values bound once per pipeline.
	if v, ok := in.Global[key].(string); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrMissingKwarg, key)
}

func int64Kwarg(in Input, key string) (int64, error) {
	for _, m := range []map[string]any{in.Kwargs, in.Global} {
		switch v := m[key].(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64:
			return int64(v), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrMissingKwarg, key)
}

// Package engine defines the contract between the dispatcher's workers and the job engines,
// and the registry mapping job sub-types to engines.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/model"
	"github.com/tigerroll/undertow/pkg/dbchange/core/domain/parameter"
	"github.com/tigerroll/undertow/pkg/dbchange/support/util/exception"
)

// Progress is one progress report of a running engine.
type Progress struct {
	Phase   string `json:"phase"`
	Target  string `json:"target,omitempty"`
	Done    int64  `json:"done"`
	Total   int64  `json:"total,omitempty"`
	Message string `json:"message,omitempty"`
}

// ProgressFunc receives progress reports. It must not block.
type ProgressFunc func(Progress)

// Job is what a worker hands to an engine.
type Job struct {
	ID         string
	Identity   model.JobIdentity
	Attempt    int
	FireTime   time.Time
	Parameters parameter.TaskParameters
	Progress   ProgressFunc
}

// Report forwards p to the job's progress sink, if any.
func (j Job) Report(p Progress) {
	if j.Progress != nil {
		j.Progress(p)
	}
}

// Engine runs one kind of job. Run returns a short summary on success.
// Errors are JobErrors classified by kind; cancellation of ctx is observed at batch or phase boundaries.
type Engine interface {
	Run(ctx context.Context, job Job) (summary string, err error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, job Job) (string, error)

// Run implements Engine.
func (f EngineFunc) Run(ctx context.Context, job Job) (string, error) { return f(ctx, job) }

// Registry maps job sub-types to engines.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register binds subType to e, replacing any previous binding.
func (r *Registry) Register(subType string, e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[strings.ToUpper(subType)] = e
}

// Lookup returns the engine for subType or a configuration error.
func (r *Registry) Lookup(subType string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.engines[strings.ToUpper(subType)]; ok {
		return e, nil
	}
	return nil, exception.NewConfigurationError("engine", fmt.Sprintf("no engine registered for sub-type %q", subType), nil)
}

// SubTypes lists the registered sub-types.
func (r *Registry) SubTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.engines))
	for k := range r.engines {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate decodes raw parameters for subType and checks that an engine can run them.
func (r *Registry) Validate(subType string, raw []byte) (parameter.TaskParameters, error) {
	if _, err := r.Lookup(subType); err != nil {
		return nil, err
	}
	return parameter.Decode(subType, raw)
}

package job

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/xraph/queuejob/backoff"
	"github.com/xraph/queuejob/codec"
)

// RelatedAction describes how a UI opens the records a job works on.
type RelatedAction struct {
	// Enable defaults to true through Function.Related.
	Enable   *bool          `json:"enable,omitempty"`
	FuncName string         `json:"func_name,omitempty"`
	Kwargs   map[string]any `json:"kwargs,omitempty"`
}

// Function is the static configuration of a "<model>.<method>" pair.
type Function struct {
	Model  string `json:"model"`
	Method string `json:"method"`

	// Channel is the default channel of the function's jobs.
	Channel string `json:"channel"`

	// RetryPattern postpones retryable failures. The zero pattern postpones
	// by backoff.RetryInterval.
	RetryPattern backoff.Pattern `json:"retry_pattern"`

	RelatedAction RelatedAction `json:"related_action"`

	// NotifyOwner publishes failures to the job's user.
	NotifyOwner bool `json:"notify_owner"`

	Description string `json:"description,omitempty"`
}

// Name returns "<model>.<method>".
func (f Function) Name() string { return f.Model + "." + f.Method }

// ChannelOrDefault returns the function channel or DefaultChannel.
func (f Function) ChannelOrDefault() string {
	if f.Channel == "" {
		return DefaultChannel
	}
	return f.Channel
}

// Call is what a handler receives.
type Call struct {
	Records codec.RecordRef
	Args    []any
	Kwargs  map[string]any
}

// Handler executes a job. The running job is available through
// FromContext. Errors are classified by the executor: RetryableError
// postpones, NothingToDoError ends in done, anything else fails the job.
type Handler func(ctx context.Context, call Call) (any, error)

type entry struct {
	fn      Function
	handler Handler
}

// Registry maps function names to their configuration and handler.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register binds fn to h, replacing any previous registration.
func Register(r *Registry, fn Function, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[fn.Name()] = entry{fn: fn, handler: h}
}

// RegisterTyped registers a handler whose keyword arguments are decoded
// into T. Positional arguments are ignored.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterTyped[T any](r *Registry, fn Function, h func(ctx context.Context, records codec.RecordRef, in T) (any, error)) {
	Register(r, fn, func(ctx context.Context, call Call) (any, error) {
		var in T
		if len(call.Kwargs) > 0 {
			raw, err := json.Marshal(call.Kwargs)
			if err != nil {
				return nil, errors.Wrapf(err, "encode kwargs for %q", fn.Name())
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, errors.Wrapf(err, "decode kwargs for %q", fn.Name())
			}
		}
		return h(ctx, call.Records, in)
	})
}

// Function returns the configuration registered under name.
func (r *Registry) Function(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.fn, ok
}

// Handler returns the handler registered under name.
func (r *Registry) Handler(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || e.handler == nil {
		return nil, false
	}
	return e.handler, true
}

// Functions returns every registered function sorted by name.
func (r *Registry) Functions() []Function {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Function, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns all registered function names.
func (r *Registry) Names() []string {
	fns := r.Functions()
	names := make([]string, len(fns))
	for i, f := range fns {
		names[i] = f.Name()
	}
	return names
}

// lookup returns the function for name, or a default configuration when
// r is nil or name is unknown.
func (r *Registry) lookup(model, method string) Function {
	if r != nil {
		if fn, ok := r.Function(model + "." + method); ok {
			return fn
		}
	}
	return Function{Model: model, Method: method, Channel: DefaultChannel}
}

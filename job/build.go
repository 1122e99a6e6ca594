package job

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/codec"
)

// Method references a function call on a set of records.
type Method struct {
	Model   string
	Method  string
	Records codec.RecordRef
}

// Build constructs an unsaved job for m with computed defaults. The channel
// and description come from the registered function when not set by opts.
// Build rejects references without a model or method with ErrNotMethod.
func Build(reg *Registry, m Method, args []any, kwargs map[string]any, opts ...Option) (*Job, error) {
	if m.Model == "" || m.Method == "" || strings.HasPrefix(m.Method, "_") {
		return nil, errors.Wrapf(queuejob.ErrNotMethod, "%q.%q", m.Model, m.Method)
	}
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	fn := reg.lookup(m.Model, m.Method)
	records := m.Records
	if records.Model == "" {
		records.Model = m.Model
	}
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	// Fail at build time rather than in the store.
	if _, err := codec.MarshalArgs(args); err != nil {
		return nil, err
	}
	if _, err := codec.MarshalKwargs(kwargs); err != nil {
		return nil, err
	}

	j := &Job{
		Model:       m.Model,
		Method:      m.Method,
		Records:     records,
		Args:        args,
		Kwargs:      kwargs,
		Priority:    o.Priority,
		MaxRetries:  o.MaxRetries,
		Channel:     o.Channel,
		Description: o.Description,
		IdentityKey: o.IdentityKey,
		BatchID:     o.BatchID,
		UserID:      o.UserID,
		CompanyID:   o.CompanyID,
	}
	if j.UserID == 0 {
		j.UserID = records.UID
	}
	if !o.ETA.IsZero() {
		eta := o.ETA.UTC()
		j.ETA = &eta
	}
	if j.Channel == "" {
		j.Channel = fn.ChannelOrDefault()
	}
	if j.Description == "" {
		j.Description = fn.Description
	}
	if j.Description == "" {
		j.Description = j.MethodName()
	}
	if o.IdentityFunc != nil {
		j.IdentityKey = o.IdentityFunc(j)
	}
	return j, nil
}

// NewFromFunction is Build for a registered function.
func NewFromFunction(reg *Registry, fn Function, records codec.RecordRef, args []any, kwargs map[string]any, opts ...Option) (*Job, error) {
	return Build(reg, Method{Model: fn.Model, Method: fn.Method, Records: records}, args, kwargs, opts...)
}

// Action is the UI action opening the records of a job.
type Action struct {
	Type     string         `json:"type"`
	Model    string         `json:"model"`
	IDs      []int64        `json:"ids"`
	Name     string         `json:"name"`
	FuncName string         `json:"func_name,omitempty"`
	Kwargs   map[string]any `json:"kwargs,omitempty"`
}

// RelatedAction resolves fn's related action for j. It returns false when
// the action is disabled.
func (j *Job) RelatedAction(fn Function) (Action, bool) {
	ra := fn.RelatedAction
	if ra.Enable != nil && !*ra.Enable {
		return Action{}, false
	}
	a := Action{Model: j.Records.Model, IDs: j.Records.IDs, FuncName: ra.FuncName, Kwargs: ra.Kwargs}
	if j.Records.Single() {
		a.Type, a.Name = "open_record", "Related Record"
	} else {
		a.Type, a.Name = "list_records", "Related Records"
	}
	return a, true
}

// SinceCreated returns how long the job has existed at now.
func (j *Job) SinceCreated(now time.Time) time.Duration { return now.Sub(j.DateCreated) }

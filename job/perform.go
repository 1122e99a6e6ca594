package job

import (
	"context"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
)

type ctxKey struct{}

// WithJob returns a context carrying j.
func WithJob(ctx context.Context, j *Job) context.Context {
	return context.WithValue(ctx, ctxKey{}, j)
}

// FromContext returns the job running in ctx, if any.
func FromContext(ctx context.Context) (*Job, bool) {
	j, ok := ctx.Value(ctxKey{}).(*Job)
	return j, ok
}

// Perform calls the handler registered for j with its records and
// arguments. The context carries j.
func (j *Job) Perform(ctx context.Context, reg *Registry) (any, error) {
	if reg == nil {
		return nil, errors.Wrapf(queuejob.ErrNoHandler, "%s", j.MethodName())
	}
	h, ok := reg.Handler(j.MethodName())
	if !ok {
		return nil, errors.Wrapf(queuejob.ErrNoHandler, "%s", j.MethodName())
	}
	return h(WithJob(ctx, j), Call{Records: j.Records, Args: j.Args, Kwargs: j.Kwargs})
}

package middleware

import (
	"context"

	"github.com/xraph/queuejob/job"
)

// JobEnv is the user, company and allow-listed context a job runs with.
type JobEnv struct {
	UserID    int64
	CompanyID int64
	Context   map[string]any
}

type envKey struct{}

// Env returns middleware that binds the job's environment to the context.
// Handlers read it with EnvFrom.
func Env() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		env := JobEnv{UserID: j.UserID, CompanyID: j.CompanyID, Context: j.Env()}
		if env.UserID == 0 {
			env.UserID = j.Records.UID
		}
		return next(context.WithValue(ctx, envKey{}, env))
	}
}

// EnvFrom returns the environment bound by Env.
func EnvFrom(ctx context.Context) (JobEnv, bool) {
	env, ok := ctx.Value(envKey{}).(JobEnv)
	return env, ok
}

package job

import (
	"fmt"
	"time"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/backoff"
)

// FailedJobErrorName is the exc_name of jobs that ran out of retries.
const FailedJobErrorName = "FailedJobError"

// RetryDelay returns the postpone delay for the current retry count:
// seconds when positive, else the strategy.
func (j *Job) RetryDelay(seconds int, strategy backoff.Strategy) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if strategy == nil {
		strategy = backoff.DefaultStrategy()
	}
	return strategy.Delay(j.Retry)
}

// ApplyRetryable handles a retryable failure: it counts the retry unless
// rerr.IgnoreRetry, then either fails the job once MaxRetries is reached or
// postpones it back to pending. It reports whether the job failed.
func (j *Job) ApplyRetryable(now time.Time, rerr *queuejob.RetryableError, strategy backoff.Strategy) (bool, error) {
	if !rerr.IgnoreRetry {
		j.Retry++
	}
	if j.MaxRetries > 0 && j.Retry >= j.MaxRetries {
		msg := fmt.Sprintf("Max. retries (%d) reached: %s", j.MaxRetries, rerr.Error())
		return true, j.SetFailed(fmt.Sprintf("%+v", rerr.Unwrap()), FailedJobErrorName, msg)
	}
	j.Postpone(now, j.RetryDelay(rerr.Seconds, strategy), "")
	return false, j.SetPending(false)
}

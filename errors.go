package queuejob

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("queuejob: no store configured")
	ErrStoreClosed     = errors.New("queuejob: store closed")
	ErrMigrationFailed = errors.New("queuejob: migration failed")
	ErrUnknownDatabase = errors.New("queuejob: unknown database")

	// Not found errors.
	ErrJobNotFound      = errors.New("queuejob: job not found")
	ErrChannelNotFound  = errors.New("queuejob: channel not found")
	ErrFunctionNotFound = errors.New("queuejob: job function not found")
	ErrBatchNotFound    = errors.New("queuejob: batch not found")
	ErrCronNotFound     = errors.New("queuejob: cron entry not found")
	ErrRunnerNotFound   = errors.New("queuejob: runner not found")
	ErrMessageNotFound  = errors.New("queuejob: message not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("queuejob: job already exists")
	ErrDuplicateCron    = errors.New("queuejob: duplicate cron entry")

	// Model errors.
	ErrInvalidState      = errors.New("queuejob: invalid state transition")
	ErrNotMethod         = errors.New("queuejob: only methods can be delayed")
	ErrProtectedField    = errors.New("queuejob: field is write-protected")
	ErrUnsupportedType   = errors.New("queuejob: unsupported type for serialization")
	ErrInvalidChannel    = errors.New("queuejob: invalid channel configuration")
	ErrNoHandler         = errors.New("queuejob: no handler registered")
	ErrSplitWithoutCall  = errors.New("queuejob: split requires a method call")
	ErrCyclicGraph       = errors.New("queuejob: dependency graph has a cycle")
	ErrMaxRetriesReached = errors.New("queuejob: max retries reached")

	// Cluster errors.
	ErrLeadershipLost = errors.New("queuejob: leadership lost")
	ErrNotLeader      = errors.New("queuejob: not the leader")
	ErrPoolSaturated  = errors.New("queuejob: worker pool saturated")
)

// RetryableError signals a transient failure. The executor postpones the job
// instead of failing it.
type RetryableError struct {
	Msg string
	// Seconds overrides the retry pattern delay when positive.
	Seconds int
	// IgnoreRetry leaves the retry counter untouched.
	IgnoreRetry bool
	cause       error
}

// Retryable returns a RetryableError with the given message.
func Retryable(msg string) *RetryableError {
	return &RetryableError{Msg: msg, cause: errors.NewWithDepth(1, msg)}
}

// RetryableAfter returns a RetryableError postponing the job by seconds.
func RetryableAfter(msg string, seconds int) *RetryableError {
	return &RetryableError{Msg: msg, Seconds: seconds, cause: errors.NewWithDepth(1, msg)}
}

// RetryableWrap marks err as transient.
func RetryableWrap(err error, seconds int, ignoreRetry bool) *RetryableError {
	return &RetryableError{Msg: err.Error(), Seconds: seconds, IgnoreRetry: ignoreRetry, cause: errors.WithStackDepth(err, 1)}
}

func (e *RetryableError) Error() string { return e.Msg }

// Format renders the cause's stack trace with %+v.
func (e *RetryableError) Format(s fmt.State, verb rune) { errors.FormatError(e, s, verb) }

// Unwrap returns the underlying cause with its stack trace.
func (e *RetryableError) Unwrap() error { return e.cause }

// FailedError marks a deterministic failure. The job goes to failed without
// consuming further retries.
type FailedError struct {
	Msg   string
	cause error
}

// Failed returns a FailedError with the given message.
func Failed(msg string) *FailedError {
	return &FailedError{Msg: msg, cause: errors.NewWithDepth(1, msg)}
}

// FailedWrap converts err into a FailedError keeping err's stack trace.
func FailedWrap(err error, msg string) *FailedError {
	return &FailedError{Msg: msg, cause: errors.WithStackDepth(err, 1)}
}

func (e *FailedError) Error() string { return e.Msg }

// Format renders the cause's stack trace with %+v.
func (e *FailedError) Format(s fmt.State, verb rune) { errors.FormatError(e, s, verb) }

// Unwrap returns the underlying cause.
func (e *FailedError) Unwrap() error { return e.cause }

// NothingToDoError signals that the work was already done. The job ends in
// done with Msg as its result.
type NothingToDoError struct {
	Msg string
}

// NothingToDo returns a NothingToDoError.
func NothingToDo(msg string) *NothingToDoError {
	return &NothingToDoError{Msg: msg}
}

func (e *NothingToDoError) Error() string { return e.Msg }

// NoSuchJobError is returned when a job uuid is unknown.
type NoSuchJobError struct {
	UUID string
}

func (e *NoSuchJobError) Error() string {
	return fmt.Sprintf("queuejob: job %s does not exist", e.UUID)
}

// Is lets errors.Is(err, ErrJobNotFound) match.
func (e *NoSuchJobError) Is(target error) bool { return target == ErrJobNotFound }

// NoSuchJob returns a NoSuchJobError for uuid.
func NoSuchJob(uuid string) error {
	return errors.WithStackDepth(&NoSuchJobError{UUID: uuid}, 1)
}

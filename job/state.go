package job

import (
	"time"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaitDependencies means at least one depends_on job is not done.
	StateWaitDependencies State = "wait_dependencies"
	// StatePending means the job waits for a lease.
	StatePending State = "pending"
	// StateEnqueued means the runner leased the job and kicked an executor.
	StateEnqueued State = "enqueued"
	// StateStarted means an executor is running the job.
	StateStarted State = "started"
	// StateDone means the job finished successfully.
	StateDone State = "done"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
	// StateCancelled means an operator cancelled the job.
	StateCancelled State = "cancelled"
)

// States lists every state.
var States = []State{
	StateWaitDependencies, StatePending, StateEnqueued, StateStarted,
	StateDone, StateFailed, StateCancelled,
}

// OutstandingStates are the states in which an identity key is unique.
var OutstandingStates = []State{StatePending, StateEnqueued, StateWaitDependencies}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, v := range States {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether s is done or cancelled.
func (s State) Terminal() bool { return s == StateDone || s == StateCancelled }

// Leased reports whether an executor holds or is about to hold the job.
func (s State) Leased() bool { return s == StateEnqueued || s == StateStarted }

// Outstanding reports whether s takes part in identity deduplication.
func (s State) Outstanding() bool {
	return s == StatePending || s == StateEnqueued || s == StateWaitDependencies
}

var transitions = map[State][]State{
	StateWaitDependencies: {StatePending, StateCancelled, StateDone},
	StatePending:          {StatePending, StateEnqueued, StateCancelled, StateDone},
	StateEnqueued:         {StatePending, StateStarted, StateCancelled, StateDone},
	StateStarted:          {StatePending, StateDone, StateFailed},
	StateFailed:           {StatePending, StateDone, StateCancelled},
	// requeue
	StateDone:      {StatePending},
	StateCancelled: {StatePending},
}

// CanTransition reports whether from → to is an edge of the state machine.
// Transitions into done from a non-started state and out of done or
// cancelled are operator actions.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (j *Job) transition(to State) error {
	if !CanTransition(j.State, to) {
		return errors.Wrapf(queuejob.ErrInvalidState, "job %s: %s → %s", j.UUID, j.State, to)
	}
	j.State = to
	return nil
}

// SetPending moves the job back to pending and clears its lease. The retry
// counter restarts only when resetRetry is set.
func (j *Job) SetPending(resetRetry bool) error {
	if err := j.transition(StatePending); err != nil {
		return err
	}
	j.DateEnqueued = nil
	j.DateStarted = nil
	j.DateDone = nil
	j.WorkerPID = 0
	j.WorkerHostname = ""
	if resetRetry {
		j.Retry = 0
	}
	return nil
}

// SetEnqueued records the lease.
func (j *Job) SetEnqueued(now time.Time) error {
	if err := j.transition(StateEnqueued); err != nil {
		return err
	}
	j.DateEnqueued = &now
	j.DateStarted = nil
	return nil
}

// SetStarted records the executing process.
func (j *Job) SetStarted(now time.Time, pid int, hostname string) error {
	if err := j.transition(StateStarted); err != nil {
		return err
	}
	j.DateStarted = &now
	j.WorkerPID = pid
	j.WorkerHostname = hostname
	return nil
}

// SetDone records success. ExecTime is computed from DateStarted.
func (j *Job) SetDone(now time.Time, result string) error {
	if err := j.transition(StateDone); err != nil {
		return err
	}
	j.DateDone = &now
	j.Result = result
	j.ExcInfo, j.ExcName, j.ExcMessage = "", "", ""
	if j.DateStarted != nil {
		j.ExecTime = now.Sub(*j.DateStarted).Seconds()
	}
	return nil
}

// SetFailed records a failure.
func (j *Job) SetFailed(excInfo, excName, excMessage string) error {
	if err := j.transition(StateFailed); err != nil {
		return err
	}
	j.ExcInfo = excInfo
	j.ExcName = excName
	j.ExcMessage = excMessage
	return nil
}

// SetCancelled records an operator cancellation.
func (j *Job) SetCancelled(now time.Time, result string) error {
	if err := j.transition(StateCancelled); err != nil {
		return err
	}
	j.DateCancelled = &now
	if result != "" {
		j.Result = result
	}
	return nil
}

// Postpone sets the eta to now+delay and clears the previous failure. The
// state is left untouched; callers follow with SetPending(false).
func (j *Job) Postpone(now time.Time, delay time.Duration, result string) {
	eta := now.Add(delay)
	j.ETA = &eta
	j.ExcInfo, j.ExcName, j.ExcMessage = "", "", ""
	if result != "" {
		j.Result = result
	}
}

package job

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/queuejob/codec"
	"github.com/xraph/queuejob/id"
)

const (
	// DefaultPriority applies when no priority is set. Lower runs first.
	DefaultPriority = 10
	// DefaultMaxRetries applies when no retry budget is set. Zero means
	// unlimited.
	DefaultMaxRetries = 5
	// DefaultChannel is the channel of functions without one.
	DefaultChannel = "root"
	// PGRetry postpones a job hit by a serialization failure or a lock
	// conflict, without consuming a retry.
	PGRetry = 5 * time.Second
)

// Job is one persisted call of a registered function.
type Job struct {
	// Seq is the store's serial id, the last ordering key in a channel.
	// Zero until the job is stored.
	Seq  int64  `json:"seq"`
	UUID string `json:"uuid"`

	Model       string          `json:"model"`
	Method      string          `json:"method"`
	Records     codec.RecordRef `json:"-"`
	Args        []any           `json:"-"`
	Kwargs      map[string]any  `json:"-"`
	Description string          `json:"description"`

	State       State      `json:"state"`
	Priority    int        `json:"priority"`
	Retry       int        `json:"retry"`
	MaxRetries  int        `json:"max_retries"`
	ETA         *time.Time `json:"eta,omitempty"`
	IdentityKey string     `json:"identity_key,omitempty"`
	Channel     string     `json:"channel"`

	DateCreated   time.Time  `json:"date_created"`
	DateEnqueued  *time.Time `json:"date_enqueued,omitempty"`
	DateStarted   *time.Time `json:"date_started,omitempty"`
	DateDone      *time.Time `json:"date_done,omitempty"`
	DateCancelled *time.Time `json:"date_cancelled,omitempty"`
	ExecTime      float64    `json:"exec_time"`

	Result     string `json:"result,omitempty"`
	ExcInfo    string `json:"exc_info,omitempty"`
	ExcName    string `json:"exc_name,omitempty"`
	ExcMessage string `json:"exc_message,omitempty"`

	DependsOn        []string `json:"depends_on,omitempty"`
	ReverseDependsOn []string `json:"reverse_depends_on,omitempty"`
	GraphUUID        string   `json:"graph_uuid,omitempty"`

	WorkerPID      int    `json:"worker_pid,omitempty"`
	WorkerHostname string `json:"worker_hostname,omitempty"`

	BatchID   id.ID `json:"batch_id"`
	UserID    int64 `json:"user_id,omitempty"`
	CompanyID int64 `json:"company_id,omitempty"`
}

// NewUUID returns a fresh job uuid.
func NewUUID() string { return uuid.NewString() }

// MethodName returns "<model>.<method>", the key of the job's function.
func (j *Job) MethodName() string { return j.Model + "." + j.Method }

// Stored reports whether the job has a row.
func (j *Job) Stored() bool { return j.Seq != 0 }

// Env returns the allow-listed context the job runs with.
func (j *Job) Env() map[string]any { return codec.FilterContext(j.Records.Context) }

// Eligible reports whether the job may be leased at now, assuming its
// dependencies are done.
func (j *Job) Eligible(now time.Time) bool {
	return j.State == StatePending && (j.ETA == nil || !j.ETA.After(now))
}

// Prepare assigns the first-store fields: uuid, creation date and the
// initial state derived from DependsOn.
func (j *Job) Prepare(now time.Time) {
	if j.UUID == "" {
		j.UUID = NewUUID()
	}
	if j.DateCreated.IsZero() {
		j.DateCreated = now
	}
	if len(j.DependsOn) > 0 {
		j.State = StateWaitDependencies
	} else {
		j.State = StatePending
	}
}

// AddDependency records that j waits on parent.
func (j *Job) AddDependency(parent *Job) {
	if !slices.Contains(j.DependsOn, parent.UUID) {
		j.DependsOn = append(j.DependsOn, parent.UUID)
	}
	if !slices.Contains(parent.ReverseDependsOn, j.UUID) {
		parent.ReverseDependsOn = append(parent.ReverseDependsOn, j.UUID)
	}
}

// Row returns the scheduling view of the job.
func (j *Job) Row() Row {
	return Row{
		UUID:         j.UUID,
		Seq:          j.Seq,
		Channel:      j.Channel,
		State:        j.State,
		Priority:     j.Priority,
		ETA:          j.ETA,
		DateCreated:  j.DateCreated,
		DateEnqueued: j.DateEnqueued,
		DateStarted:  j.DateStarted,
	}
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	c := *j
	c.Args = slices.Clone(j.Args)
	if j.Kwargs != nil {
		c.Kwargs = make(map[string]any, len(j.Kwargs))
		for k, v := range j.Kwargs {
			c.Kwargs[k] = v
		}
	}
	c.Records.IDs = slices.Clone(j.Records.IDs)
	c.DependsOn = slices.Clone(j.DependsOn)
	c.ReverseDependsOn = slices.Clone(j.ReverseDependsOn)
	c.ETA = cloneTime(j.ETA)
	c.DateEnqueued = cloneTime(j.DateEnqueued)
	c.DateStarted = cloneTime(j.DateStarted)
	c.DateDone = cloneTime(j.DateDone)
	c.DateCancelled = cloneTime(j.DateCancelled)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Row is the subset of a job the runner schedules on.
type Row struct {
	UUID         string
	Seq          int64
	Channel      string
	State        State
	Priority     int
	ETA          *time.Time
	DateCreated  time.Time
	DateEnqueued *time.Time
	DateStarted  *time.Time
}

package batch

import (
	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/id"
)

// State is the lifecycle state of a batch.
type State string

const (
	StateDraft    State = "draft"
	StateEnqueued State = "enqueued"
	StateProgress State = "progress"
	StateFinished State = "finished"
)

// Batch is a named group of jobs.
type Batch struct {
	queuejob.Entity

	ID        id.ID  `json:"id"`
	Name      string `json:"name"`
	State     State  `json:"state"`
	UserID    int64  `json:"user_id,omitempty"`
	CompanyID int64  `json:"company_id,omitempty"`
	// IsRead is cleared when the batch finishes, until its owner looks.
	IsRead bool `json:"is_read"`

	JobCount         int64   `json:"job_count"`
	FinishedCount    int64   `json:"finished_job_count"`
	FailedCount      int64   `json:"failed_job_count"`
	Completeness     float64 `json:"completeness"`
	FailedPercentage float64 `json:"failed_percentage"`
}

// New returns a draft batch.
func New(name string, userID, companyID int64) *Batch {
	return &Batch{
		Entity:    queuejob.NewEntity(),
		ID:        id.NewBatchID(),
		Name:      name,
		State:     StateDraft,
		UserID:    userID,
		CompanyID: companyID,
		IsRead:    true,
	}
}

// setCounts fills the counters and their ratios.
func (b *Batch) setCounts(total, done, failed int64) {
	b.JobCount, b.FinishedCount, b.FailedCount = total, done, failed
	d := float64(max(1, total))
	b.Completeness = float64(done) / d
	b.FailedPercentage = float64(failed) / d
}

package message

import (
	"time"

	"github.com/xraph/queuejob/id"
)

// AudienceQueueManager addresses the users allowed to manage jobs.
const AudienceQueueManager = "queue_manager"

// Message is a notice attached to a job.
type Message struct {
	ID       id.ID  `json:"id"`
	JobUUID  string `json:"job_uuid"`
	Audience string `json:"audience"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	ExcName  string `json:"exc_name,omitempty"`
	// UserID is the owner of the job, if any.
	UserID    int64      `json:"user_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

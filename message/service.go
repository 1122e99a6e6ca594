package message

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/queuejob/id"
	"github.com/xraph/queuejob/job"
)

// Service provides high-level message operations over a Store.
type Service struct {
	store Store
}

// NewService creates a message service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// PostFailure builds the failure notice of j and persists it.
func (s *Service) PostFailure(ctx context.Context, j *job.Job) (*Message, error) {
	m := &Message{
		ID:        id.NewMessageID(),
		JobUUID:   j.UUID,
		Audience:  AudienceQueueManager,
		Subject:   fmt.Sprintf("Job failed: %s", j.Description),
		Body:      FailureBody(j),
		ExcName:   j.ExcName,
		UserID:    j.UserID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.PostMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// FailureBody renders the text of a failure notice.
func FailureBody(j *job.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Something bad happened during the execution of job %s (%s).\n", j.UUID, j.Description)
	if j.ExcName != "" {
		fmt.Fprintf(&b, "\n%s: %s\n", j.ExcName, j.ExcMessage)
	} else if j.ExcMessage != "" {
		fmt.Fprintf(&b, "\n%s\n", j.ExcMessage)
	}
	b.WriteString("\nMore details in the exception information of the job.")
	return b.String()
}

// Store returns the underlying message store for list, read and purge
// operations.
func (s *Service) Store() Store {
	return s.store
}

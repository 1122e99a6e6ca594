package cron

import (
	"time"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/id"
)

// Entry is a scheduled creation of a job.
type Entry struct {
	queuejob.Entity

	ID       id.ID  `json:"id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule"`

	Model  string         `json:"model"`
	Method string         `json:"method"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`

	// Channel and Priority override the function defaults when set.
	Channel  string `json:"channel,omitempty"`
	Priority int    `json:"priority,omitempty"`

	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Enabled     bool       `json:"enabled"`
}

// MethodName returns "<model>.<method>".
func (e *Entry) MethodName() string { return e.Model + "." + e.Method }

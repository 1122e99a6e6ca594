package cron

import (
	"time"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/id"
)

// Definition describes a cron entry to register.
type Definition struct {
	// Name is the unique identifier of the entry.
	Name string

	// Schedule is a cron expression (e.g. "*/5 * * * *" or "@daily").
	Schedule string

	Model  string
	Method string
	Args   []any
	Kwargs map[string]any

	Channel  string
	Priority int
}

// NewEntry validates d and returns an enabled entry whose first run is the
// next schedule time after now.
func (d Definition) NewEntry(now time.Time) (*Entry, error) {
	if d.Name == "" {
		return nil, errors.New("cron: definition without name")
	}
	if d.Model == "" || d.Method == "" {
		return nil, errors.Wrapf(queuejob.ErrNotMethod, "cron %q", d.Name)
	}
	sched, err := ParseSchedule(d.Schedule)
	if err != nil {
		return nil, errors.Wrapf(err, "cron %q: schedule %q", d.Name, d.Schedule)
	}
	next := sched.Next(now)
	return &Entry{
		Entity:    queuejob.NewEntity(),
		ID:        id.NewCronID(),
		Name:      d.Name,
		Schedule:  d.Schedule,
		Model:     d.Model,
		Method:    d.Method,
		Args:      d.Args,
		Kwargs:    d.Kwargs,
		Channel:   d.Channel,
		Priority:  d.Priority,
		NextRunAt: &next,
		Enabled:   true,
	}, nil
}

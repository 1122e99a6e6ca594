package cluster

import (
	"time"

	"github.com/xraph/queuejob/id"
)

// RunnerState represents the lifecycle state of a runner instance.
type RunnerState string

const (
	// RunnerActive means the runner is listening and dispatching.
	RunnerActive RunnerState = "active"
	// RunnerStopping means the runner is shutting down.
	RunnerStopping RunnerState = "stopping"
	// RunnerDead means the runner missed its heartbeats.
	RunnerDead RunnerState = "dead"
)

// Runner is a registered jobrunner process.
type Runner struct {
	ID       id.ID  `json:"id"`
	Hostname string `json:"hostname"`
	PID      int    `json:"pid"`
	// ApplicationName is the jobrunner_<uuid> tag of the runner's
	// database connections.
	ApplicationName string      `json:"application_name"`
	Databases       []string    `json:"databases"`
	State           RunnerState `json:"state"`
	IsLeader        bool        `json:"is_leader"`
	LeaderUntil     *time.Time  `json:"leader_until,omitempty"`
	LastSeen        time.Time   `json:"last_seen"`
	CreatedAt       time.Time   `json:"created_at"`
}

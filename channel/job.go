package channel

import (
	"container/heap"
	"time"

	"github.com/xraph/queuejob/job"
)

type placement int

const (
	placeNone placement = iota
	placeQueue
	placeETA
	placeRunning
	placeDead
)

type jobKey struct {
	db   string
	uuid string
}

// Job is the scheduler's view of a job row of one database.
type Job struct {
	DB          string
	UUID        string
	Seq         int64
	Priority    int
	ETA         time.Time
	DateCreated time.Time
	State       job.State

	channel   *Channel
	place     placement
	index     int
	deadSince time.Time
}

// Channel returns the full path of the channel the job is billed to.
func (j *Job) Channel() string {
	if j.channel == nil {
		return ""
	}
	return j.channel.FullName()
}

func (j *Job) key() jobKey { return jobKey{db: j.DB, uuid: j.UUID} }

// sortTime is the eta when set, else the creation date.
func (j *Job) sortTime() time.Time {
	if !j.ETA.IsZero() {
		return j.ETA
	}
	return j.DateCreated
}

// runsBefore orders the runnable queue by (priority, eta or creation, seq).
func runsBefore(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if ta, tb := a.sortTime(), b.sortTime(); !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.Seq < b.Seq
}

// dueBefore orders the eta queue.
func dueBefore(a, b *Job) bool {
	if !a.ETA.Equal(b.ETA) {
		return a.ETA.Before(b.ETA)
	}
	return a.Seq < b.Seq
}

// jobHeap implements heap.Interface over jobs with a pluggable order.
type jobHeap struct {
	jobs []*Job
	less func(a, b *Job) bool
}

func newJobHeap(less func(a, b *Job) bool) *jobHeap { return &jobHeap{less: less} }

func (h *jobHeap) Len() int           { return len(h.jobs) }
func (h *jobHeap) Less(i, j int) bool { return h.less(h.jobs[i], h.jobs[j]) }

func (h *jobHeap) Swap(i, j int) {
	h.jobs[i], h.jobs[j] = h.jobs[j], h.jobs[i]
	h.jobs[i].index = i
	h.jobs[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*Job)
	j.index = len(h.jobs)
	h.jobs = append(h.jobs, j)
}

func (h *jobHeap) Pop() any {
	old := h.jobs
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	h.jobs = old[:n-1]
	j.index = -1
	return j
}

func (h *jobHeap) peek() *Job {
	if len(h.jobs) == 0 {
		return nil
	}
	return h.jobs[0]
}

func (h *jobHeap) add(j *Job)    { heap.Push(h, j) }
func (h *jobHeap) remove(j *Job) { heap.Remove(h, j.index) }
func (h *jobHeap) pop() *Job     { return heap.Pop(h).(*Job) }

package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xraph/queuejob/admin"
	"github.com/xraph/queuejob/api"
	"github.com/xraph/queuejob/job"
)

// ListOptions filters ListJobs.
type ListOptions struct {
	State     job.State
	Channel   string
	GraphUUID string
	Limit     int
	Offset    int
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.State != "" {
		q.Set("state", string(o.State))
	}
	if o.Channel != "" {
		q.Set("channel", o.Channel)
	}
	if o.GraphUUID != "" {
		q.Set("graph_uuid", o.GraphUUID)
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	return q
}

func dbPath(db, rest string) string {
	return "/v1/" + url.PathEscape(db) + rest
}

// ListJobs returns the jobs of db matching opts.
func (c *Client) ListJobs(ctx context.Context, db string, opts ListOptions) ([]*job.Job, error) {
	var jobs []*job.Job
	err := c.do(ctx, http.MethodGet, dbPath(db, "/jobs"), opts.query(), nil, &jobs)
	return jobs, err
}

// GetJob retrieves a job by uuid.
func (c *Client) GetJob(ctx context.Context, db, uuid string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, dbPath(db, "/jobs/"+url.PathEscape(uuid)), nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// JobCounts returns the number of jobs of db per state, optionally for
// one channel.
func (c *Client) JobCounts(ctx context.Context, db, channel string) (api.JobCountsResponse, error) {
	q := url.Values{}
	if channel != "" {
		q.Set("channel", channel)
	}
	var counts api.JobCountsResponse
	err := c.do(ctx, http.MethodGet, dbPath(db, "/jobs/counts"), q, nil, &counts)
	return counts, err
}

// Requeue sets failed, done or cancelled jobs back to pending.
func (c *Client) Requeue(ctx context.Context, db string, uuids []string) (admin.Result, error) {
	return c.bulk(ctx, db, "/jobs/requeue", api.JobsRequest{UUIDs: uuids})
}

// SetDone marks jobs done on behalf of user.
func (c *Client) SetDone(ctx context.Context, db string, uuids []string, user string) (admin.Result, error) {
	return c.bulk(ctx, db, "/jobs/set_done", api.JobsRequest{UUIDs: uuids, User: user})
}

// Cancel cancels jobs on behalf of user.
func (c *Client) Cancel(ctx context.Context, db string, uuids []string, user string) (admin.Result, error) {
	return c.bulk(ctx, db, "/jobs/cancel", api.JobsRequest{UUIDs: uuids, User: user})
}

// CascadeCancel cancels a job and the jobs waiting on it.
func (c *Client) CascadeCancel(ctx context.Context, db, uuid, user string) (admin.Result, error) {
	var res admin.Result
	path := dbPath(db, "/jobs/"+url.PathEscape(uuid)+"/cascade_cancel")
	err := c.do(ctx, http.MethodPost, path, nil, api.CascadeCancelRequest{User: user}, &res)
	return res, err
}

func (c *Client) bulk(ctx context.Context, db, path string, req api.JobsRequest) (admin.Result, error) {
	var res admin.Result
	err := c.do(ctx, http.MethodPost, dbPath(db, path), nil, req, &res)
	return res, err
}

// Autovacuum deletes the expired done and cancelled jobs of db and
// returns how many were deleted.
func (c *Client) Autovacuum(ctx context.Context, db string) (int64, error) {
	var res api.AutovacuumResponse
	err := c.do(ctx, http.MethodPost, dbPath(db, "/autovacuum"), nil, nil, &res)
	return res.Deleted, err
}

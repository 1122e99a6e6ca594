package api

import (
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/xraph/queuejob/admin"
	"github.com/xraph/queuejob/engine"
	"github.com/xraph/queuejob/job"
)

// JobsRequest is the body of the bulk job actions.
type JobsRequest struct {
	UUIDs []string `json:"uuids"`
	User  string   `json:"user,omitempty"`
}

// CascadeCancelRequest is the body of a cascade cancel.
type CascadeCancelRequest struct {
	User string `json:"user,omitempty"`
}

// JobCountsResponse holds the number of jobs per state.
type JobCountsResponse map[job.State]int64

// AutovacuumResponse reports the jobs an autovacuum deleted.
type AutovacuumResponse struct {
	Deleted int64 `json:"deleted"`
}

func (a *API) database(r *http.Request) (*engine.Database, error) {
	return a.eng.Database(r.Context(), r.PathValue("db"))
}

func (a *API) listJobs(r *http.Request) (int, any, error) {
	db, err := a.database(r)
	if err != nil {
		return 0, nil, err
	}
	limit, offset, err := pageParams(r)
	if err != nil {
		return 0, nil, err
	}
	q := r.URL.Query()
	state := job.State(q.Get("state"))
	if state != "" && !state.Valid() {
		return 0, nil, badRequest{errors.Newf("invalid state %q", state)}
	}

	jobs, err := db.Store.ListJobs(r.Context(), job.ListOpts{
		Limit:     limit,
		Offset:    offset,
		State:     state,
		Channel:   q.Get("channel"),
		GraphUUID: q.Get("graph_uuid"),
	})
	if err != nil {
		return 0, nil, errors.Wrap(err, "list jobs")
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	return http.StatusOK, jobs, nil
}

func (a *API) getJob(r *http.Request) (int, any, error) {
	db, err := a.database(r)
	if err != nil {
		return 0, nil, err
	}
	j, err := db.Store.GetJob(r.Context(), r.PathValue("uuid"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, j, nil
}

func (a *API) jobCounts(r *http.Request) (int, any, error) {
	db, err := a.database(r)
	if err != nil {
		return 0, nil, err
	}
	counts, err := countByState(r, db, r.URL.Query().Get("channel"))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, counts, nil
}

func countByState(r *http.Request, db *engine.Database, channel string) (JobCountsResponse, error) {
	counts := make(JobCountsResponse, len(job.States))
	for _, state := range job.States {
		n, err := db.Store.CountJobs(r.Context(), job.CountOpts{State: state, Channel: channel})
		if err != nil {
			return nil, errors.Wrapf(err, "count %s jobs", state)
		}
		counts[state] = n
	}
	return counts, nil
}

func (a *API) requeueJobs(r *http.Request) (int, any, error) {
	return a.bulk(r, func(s *admin.Service, req JobsRequest) (admin.Result, error) {
		return s.Requeue(r.Context(), req.UUIDs)
	})
}

func (a *API) setJobsDone(r *http.Request) (int, any, error) {
	return a.bulk(r, func(s *admin.Service, req JobsRequest) (admin.Result, error) {
		return s.SetDone(r.Context(), req.UUIDs, req.User)
	})
}

func (a *API) cancelJobs(r *http.Request) (int, any, error) {
	return a.bulk(r, func(s *admin.Service, req JobsRequest) (admin.Result, error) {
		return s.Cancel(r.Context(), req.UUIDs, req.User)
	})
}

func (a *API) bulk(r *http.Request, action func(*admin.Service, JobsRequest) (admin.Result, error)) (int, any, error) {
	db, err := a.database(r)
	if err != nil {
		return 0, nil, err
	}
	var req JobsRequest
	if err := decodeBody(r, &req); err != nil {
		return 0, nil, err
	}
	if len(req.UUIDs) == 0 {
		return 0, nil, badRequest{errors.New("uuids is required")}
	}
	res, err := action(db.Admin, req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, res, nil
}

func (a *API) cascadeCancel(r *http.Request) (int, any, error) {
	db, err := a.database(r)
	if err != nil {
		return 0, nil, err
	}
	var req CascadeCancelRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			return 0, nil, err
		}
	}
	res, err := db.Admin.CascadeCancel(r.Context(), r.PathValue("uuid"), req.User)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, res, nil
}

func (a *API) autovacuum(r *http.Request) (int, any, error) {
	db, err := a.database(r)
	if err != nil {
		return 0, nil, err
	}
	n, err := db.Admin.Autovacuum(r.Context())
	if err != nil {
		return 0, nil, errors.Wrap(err, "autovacuum")
	}
	return http.StatusOK, AutovacuumResponse{Deleted: n}, nil
}

package api

import (
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/xraph/queuejob/job"
)

// StatsResponse summarizes one database and the local worker pool.
type StatsResponse struct {
	Database    string            `json:"database"`
	Jobs        JobCountsResponse `json:"jobs"`
	Crons       int               `json:"crons"`
	ActiveLocal int               `json:"active_local"`
}

func (a *API) listChannels(r *http.Request) (int, any, error) {
	db, err := a.database(r)
	if err != nil {
		return 0, nil, err
	}
	channels, err := db.Store.ListChannels(r.Context())
	if err != nil {
		return 0, nil, errors.Wrap(err, "list channels")
	}
	if channels == nil {
		channels = []job.ChannelRecord{}
	}
	return http.StatusOK, channels, nil
}

func (a *API) stats(r *http.Request) (int, any, error) {
	db, err := a.database(r)
	if err != nil {
		return 0, nil, err
	}
	counts, err := countByState(r, db, "")
	if err != nil {
		return 0, nil, err
	}
	crons, err := db.Store.ListCrons(r.Context())
	if err != nil {
		return 0, nil, errors.Wrap(err, "list crons")
	}
	return http.StatusOK, StatsResponse{
		Database:    db.Name,
		Jobs:        counts,
		Crons:       len(crons),
		ActiveLocal: a.eng.Pool().Active(),
	}, nil
}

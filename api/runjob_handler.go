package api

import (
	"log/slog"
	"net/http"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
)

// runJob accepts a dispatched job and answers before it runs.
func (a *API) runJob(w http.ResponseWriter, r *http.Request) {
	db := r.URL.Query().Get("db")
	uuid := r.URL.Query().Get("job_uuid")
	if db == "" || uuid == "" {
		http.Error(w, "db and job_uuid are required", http.StatusBadRequest)
		return
	}

	if err := a.eng.Pool().Submit(db, uuid); err != nil {
		if errors.Is(err, queuejob.ErrPoolSaturated) {
			a.logger.Warn("runjob rejected",
				slog.String("db", db),
				slog.String("job_uuid", uuid),
				slog.String("error", err.Error()),
			)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		a.logger.Error("runjob submit failed",
			slog.String("db", db),
			slog.String("job_uuid", uuid),
			slog.String("error", err.Error()),
		)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
}

func (a *API) notifications(w http.ResponseWriter, r *http.Request) {
	relay := a.eng.Relay()
	if relay == nil {
		http.Error(w, "notifications are not configured", http.StatusServiceUnavailable)
		return
	}
	relay.ServeHTTP(w, r)
}

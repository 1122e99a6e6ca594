// Package api serves the HTTP surface of a queue engine: the runjob
// endpoint the runner dispatches to, the owner notification relay and a
// JSON admin API over each database.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/engine"
)

const defaultPageSize = 50

// API wires the HTTP handlers of an engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API from an Engine.
func New(eng *engine.Engine) *API {
	return &API{eng: eng, logger: eng.Logger()}
}

// Handler returns a mux with every route registered.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes registers all routes into mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /queue_job/runjob", a.basicAuth(http.HandlerFunc(a.runJob)))
	mux.HandleFunc("GET /queue_job/notifications", a.notifications)

	a.registerJobRoutes(mux)
	a.registerCronRoutes(mux)
	a.registerStatsRoutes(mux)
}

func (a *API) registerJobRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/{db}/jobs", jsonResponse(a.listJobs))
	mux.HandleFunc("GET /v1/{db}/jobs/counts", jsonResponse(a.jobCounts))
	mux.HandleFunc("GET /v1/{db}/jobs/{uuid}", jsonResponse(a.getJob))
	mux.HandleFunc("POST /v1/{db}/jobs/requeue", jsonResponse(a.requeueJobs))
	mux.HandleFunc("POST /v1/{db}/jobs/set_done", jsonResponse(a.setJobsDone))
	mux.HandleFunc("POST /v1/{db}/jobs/cancel", jsonResponse(a.cancelJobs))
	mux.HandleFunc("POST /v1/{db}/jobs/{uuid}/cascade_cancel", jsonResponse(a.cascadeCancel))
	mux.HandleFunc("POST /v1/{db}/autovacuum", jsonResponse(a.autovacuum))
}

func (a *API) registerCronRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/{db}/crons", jsonResponse(a.listCrons))
	mux.HandleFunc("GET /v1/{db}/crons/{id}", jsonResponse(a.getCron))
	mux.HandleFunc("POST /v1/{db}/crons/{id}/enable", jsonResponse(a.enableCron))
	mux.HandleFunc("POST /v1/{db}/crons/{id}/disable", jsonResponse(a.disableCron))
	mux.HandleFunc("DELETE /v1/{db}/crons/{id}", jsonResponse(a.deleteCron))
}

func (a *API) registerStatsRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/{db}/channels", jsonResponse(a.listChannels))
	mux.HandleFunc("GET /v1/{db}/stats", jsonResponse(a.stats))
}

// handlerFunc is a JSON handler: it returns the body to encode or an
// error mapped to a status code.
type handlerFunc func(r *http.Request) (status int, body any, err error)

func jsonResponse(next handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status, body, err := next(r)
		if err != nil {
			var code string
			status, code = statusOf(err)
			body = ErrorResponse{Error: err.Error(), Code: code}
		}
		w.WriteHeader(status)
		if body != nil {
			_ = json.NewEncoder(w).Encode(body)
		}
	}
}

// ErrorResponse is the body of a failed request. Code identifies the
// error for clients.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes of ErrorResponse.
const (
	CodeBadRequest      = "bad_request"
	CodeUnknownDatabase = "unknown_database"
	CodeJobNotFound     = "job_not_found"
	CodeCronNotFound    = "cron_not_found"
	CodeChannelNotFound = "channel_not_found"
	CodeInvalidState    = "invalid_state"
	CodePoolSaturated   = "pool_saturated"
)

// badRequest marks an error as the client's fault.
type badRequest struct{ error }

func (e badRequest) Unwrap() error { return e.error }

func statusOf(err error) (int, string) {
	var br badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, queuejob.ErrUnknownDatabase):
		return http.StatusNotFound, CodeUnknownDatabase
	case errors.Is(err, queuejob.ErrJobNotFound):
		return http.StatusNotFound, CodeJobNotFound
	case errors.Is(err, queuejob.ErrCronNotFound):
		return http.StatusNotFound, CodeCronNotFound
	case errors.Is(err, queuejob.ErrChannelNotFound):
		return http.StatusNotFound, CodeChannelNotFound
	case errors.Is(err, queuejob.ErrInvalidState):
		return http.StatusConflict, CodeInvalidState
	case errors.Is(err, queuejob.ErrPoolSaturated):
		return http.StatusServiceUnavailable, CodePoolSaturated
	default:
		return http.StatusInternalServerError, ""
	}
}

// basicAuth guards next when HTTPAuthUser is configured.
func (a *API) basicAuth(next http.Handler) http.Handler {
	cfg := a.eng.Config()
	if cfg.HTTPAuthUser == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(cfg.HTTPAuthUser)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.HTTPAuthPassword)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="queue_job"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, badRequest{errors.Newf("invalid limit %q", v)}
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, badRequest{errors.Newf("invalid offset %q", v)}
		}
	}
	return limit, offset, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest{errors.Wrap(err, "decode body")}
	}
	return nil
}

package api

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/queuejob/cron"
	"github.com/xraph/queuejob/id"
)

func (a *API) listCrons(r *http.Request) (int, any, error) {
	db, err := a.database(r)
	if err != nil {
		return 0, nil, err
	}
	limit, offset, err := pageParams(r)
	if err != nil {
		return 0, nil, err
	}

	entries, err := db.Store.ListCrons(r.Context())
	if err != nil {
		return 0, nil, errors.Wrap(err, "list crons")
	}

	offset = min(offset, len(entries))
	end := len(entries)
	if limit > 0 {
		end = min(offset+limit, end)
	}
	page := entries[offset:end]
	if page == nil {
		page = []*cron.Entry{}
	}
	return http.StatusOK, page, nil
}

func (a *API) getCron(r *http.Request) (int, any, error) {
	_, entry, err := a.cronEntry(r)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, entry, nil
}

func (a *API) enableCron(r *http.Request) (int, any, error) {
	return a.setCronEnabled(r, true)
}

func (a *API) disableCron(r *http.Request) (int, any, error) {
	return a.setCronEnabled(r, false)
}

// setCronEnabled toggles an entry. Enabling recomputes NextRunAt so the
// runs missed while disabled are not caught up.
func (a *API) setCronEnabled(r *http.Request, enabled bool) (int, any, error) {
	store, entry, err := a.cronEntry(r)
	if err != nil {
		return 0, nil, err
	}
	if entry.Enabled == enabled {
		return http.StatusOK, entry, nil
	}

	entry.Enabled = enabled
	if enabled {
		sched, err := cron.ParseSchedule(entry.Schedule)
		if err != nil {
			return 0, nil, err
		}
		next := sched.Next(time.Now().UTC())
		entry.NextRunAt = &next
	}
	if err := store.UpdateCronEntry(r.Context(), entry); err != nil {
		return 0, nil, errors.Wrap(err, "update cron")
	}
	return http.StatusOK, entry, nil
}

func (a *API) deleteCron(r *http.Request) (int, any, error) {
	store, entry, err := a.cronEntry(r)
	if err != nil {
		return 0, nil, err
	}
	if err := store.DeleteCron(r.Context(), entry.ID); err != nil {
		return 0, nil, errors.Wrap(err, "delete cron")
	}
	return http.StatusNoContent, nil, nil
}

func (a *API) cronEntry(r *http.Request) (cron.Store, *cron.Entry, error) {
	db, err := a.database(r)
	if err != nil {
		return nil, nil, err
	}
	cronID, err := id.ParseCronID(r.PathValue("id"))
	if err != nil {
		return nil, nil, badRequest{errors.Wrap(err, "invalid cron ID")}
	}
	entry, err := db.Store.GetCron(r.Context(), cronID)
	if err != nil {
		return nil, nil, err
	}
	return db.Store, entry, nil
}

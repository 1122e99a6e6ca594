package runner

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
)

// Dispatcher hands a leased job to an executor. A nil error means the
// executor accepted the job, not that the job ran.
type Dispatcher interface {
	Dispatch(ctx context.Context, db, uuid string) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, db, uuid string) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, db, uuid string) error { return f(ctx, db, uuid) }

// HTTPDispatcher calls the runjob endpoint of an executor server.
type HTTPDispatcher struct {
	cfg    queuejob.Config
	client *http.Client
}

// NewHTTPDispatcher returns a dispatcher for the endpoint of cfg. The
// request times out after cfg.DispatchTimeout: the runner only needs the
// request to be received.
func NewHTTPDispatcher(cfg queuejob.Config) *HTTPDispatcher {
	timeout := cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return &HTTPDispatcher{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

// Dispatch sends GET /queue_job/runjob?db=<db>&job_uuid=<uuid>.
func (h *HTTPDispatcher) Dispatch(ctx context.Context, db, uuid string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.RunJobURL(db, uuid), nil)
	if err != nil {
		return errors.Wrap(err, "runner: build runjob request")
	}
	if h.cfg.HTTPAuthUser != "" {
		req.SetBasicAuth(h.cfg.HTTPAuthUser, h.cfg.HTTPAuthPassword)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "runner: runjob %s", uuid)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("runner: runjob %s: status %d", uuid, resp.StatusCode)
	}
	return nil
}

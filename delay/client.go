package delay

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/xraph/queuejob/batch"
	"github.com/xraph/queuejob/ext"
	"github.com/xraph/queuejob/id"
	"github.com/xraph/queuejob/job"
)

// Client delays graphs into a job store.
type Client struct {
	store    job.Store
	registry *job.Registry
	batches  *batch.Service
	exts     *ext.Registry
	noDelay  bool
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRegistry resolves function defaults and refuses unregistered
// methods.
func WithRegistry(r *job.Registry) Option {
	return func(c *Client) { c.registry = r }
}

// WithBatches enables Client.Batch.
func WithBatches(s *batch.Service) Option {
	return func(c *Client) { c.batches = s }
}

// WithExtensions emits JobDelayed for every stored job.
func WithExtensions(r *ext.Registry) Option {
	return func(c *Client) { c.exts = r }
}

// WithNoDelay runs delayed jobs inline, in dependency order, instead of
// storing them. It needs a registry.
func WithNoDelay(on bool) Option {
	return func(c *Client) { c.noDelay = on }
}

// WithClock sets the time source of creation dates.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a Client storing into s.
func NewClient(s job.Store, opts ...Option) *Client {
	c := &Client{
		store:  s,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enqueue delays a single call. It is Delayable(...).Call(...).Delay and
// returns the uuid of the stored or existing job.
func (c *Client) Enqueue(ctx context.Context, m job.Method, args []any, kwargs map[string]any, opts ...job.Option) (string, error) {
	records := m.Records
	if records.Model == "" {
		records.Model = m.Model
	}
	d := c.Delayable(records, opts...).Call(m.Method, args, kwargs)
	if _, err := d.Delay(ctx); err != nil {
		return "", err
	}
	return d.UUID(), nil
}

// Batch delays nodes as one group attached to a new batch, and returns the
// batch once enqueued.
func (c *Client) Batch(ctx context.Context, name string, userID, companyID int64, nodes ...Node) (*batch.Batch, []string, error) {
	if c.batches == nil {
		return nil, nil, errors.New("delay: batch service not configured")
	}
	b, err := c.batches.Create(ctx, name, userID, companyID)
	if err != nil {
		return nil, nil, err
	}
	uuids, err := c.delay(ctx, c.Group(nodes...).g, func(j *job.Job) {
		j.BatchID = b.ID
		if j.UserID == 0 {
			j.UserID = userID
		}
		if j.CompanyID == 0 {
			j.CompanyID = companyID
		}
	})
	if err != nil {
		return nil, nil, err
	}
	b, err = c.batches.Enqueue(ctx, b.ID)
	if err != nil {
		return nil, nil, err
	}
	return b, uuids, nil
}

// delay builds and stores the graph reachable from root. attach, when not
// nil, edits every job before it is stored.
func (c *Client) delay(ctx context.Context, root *graph, attach func(*job.Job)) ([]string, error) {
	d := connect(root)
	order, err := d.sorted()
	if err != nil {
		return nil, err
	}

	now := c.now()
	jobs := make([]*job.Job, len(order))
	index := make(map[*Delayable]*job.Job, len(order))
	for i, v := range order {
		j, err := v.build()
		if err != nil {
			return nil, err
		}
		if attach != nil {
			attach(j)
		}
		j.UUID = job.NewUUID()
		jobs[i] = j
		index[v] = j
	}
	for _, v := range order {
		for _, child := range d.children[v] {
			index[child].AddDependency(index[v])
		}
	}
	graphUUID := ""
	if len(jobs) > 1 {
		graphUUID = uuid.NewString()
	}
	for _, j := range jobs {
		j.GraphUUID = graphUUID
		j.Prepare(now)
	}

	if c.noDelay {
		return c.runInline(ctx, order, jobs)
	}

	if len(jobs) == 1 {
		existing, err := c.store.InsertJob(ctx, jobs[0])
		if err != nil {
			return nil, err
		}
		if existing != "" {
			c.logger.Debug("job already queued", slog.String("job_uuid", existing), slog.String("identity_key", jobs[0].IdentityKey))
			jobs[0].UUID = existing
			jobs[0].Seq = 0
		} else {
			c.exts.EmitJobDelayed(ctx, jobs[0])
		}
		order[0].generated = jobs[0]
		return []string{jobs[0].UUID}, nil
	}

	if existing, ok, err := c.existingGraph(ctx, jobs); err != nil || ok {
		if ok {
			for i, v := range order {
				jobs[i].UUID = existing[i]
				jobs[i].Seq = 0
				v.generated = jobs[i]
			}
		}
		return existing, err
	}

	if err := c.store.InsertGraph(ctx, jobs); err != nil {
		return nil, err
	}
	uuids := make([]string, len(jobs))
	for i, v := range order {
		v.generated = jobs[i]
		uuids[i] = jobs[i].UUID
		c.exts.EmitJobDelayed(ctx, jobs[i])
	}
	c.logger.Debug("graph delayed", slog.String("graph_uuid", graphUUID), slog.Int("jobs", len(jobs)))
	return uuids, nil
}

// existingGraph returns the uuids of the outstanding jobs holding the keys
// of jobs, when every job has a key and every key is held.
func (c *Client) existingGraph(ctx context.Context, jobs []*job.Job) ([]string, bool, error) {
	keys := make([]string, len(jobs))
	for i, j := range jobs {
		if j.IdentityKey == "" {
			return nil, false, nil
		}
		keys[i] = j.IdentityKey
	}
	found, err := c.store.FindByIdentity(ctx, keys)
	if err != nil {
		return nil, false, err
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		u, ok := found[k]
		if !ok {
			return nil, false, nil
		}
		out[i] = u
	}
	return out, true, nil
}

// runInline performs the jobs in dependency order without storing them.
// The first failure stops the run.
func (c *Client) runInline(ctx context.Context, vertices []*Delayable, jobs []*job.Job) ([]string, error) {
	if c.registry == nil {
		return nil, errors.New("delay: inline execution needs a registry")
	}
	uuids := make([]string, len(jobs))
	for i, j := range jobs {
		c.logger.Warn("executing job inline", slog.String("job_uuid", j.UUID), slog.String("method", j.MethodName()))
		if _, err := j.Perform(ctx, c.registry); err != nil {
			return nil, errors.Wrapf(err, "delay: inline %s", j.MethodName())
		}
		vertices[i].generated = j
		uuids[i] = j.UUID
	}
	return uuids, nil
}

// BatchID returns the batch the jobs of d were attached to, if any.
func (d *Delayable) BatchID() id.ID {
	if d.generated == nil {
		return id.Nil
	}
	return d.generated.BatchID
}

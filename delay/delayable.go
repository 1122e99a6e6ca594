package delay

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/codec"
	"github.com/xraph/queuejob/job"
)

// Delayable is one future job.
type Delayable struct {
	c       *Client
	g       *graph
	records codec.RecordRef
	opts    job.Options
	method  string
	args    []any
	kwargs  map[string]any

	generated *job.Job
}

// Delayable starts a node working on records. opts set the job properties.
func (c *Client) Delayable(records codec.RecordRef, opts ...job.Option) *Delayable {
	d := &Delayable{c: c, g: newGraph(), records: records, opts: job.DefaultOptions()}
	d.g.addVertex(d)
	return d.Set(opts...)
}

// Set applies job options such as job.WithPriority or job.WithETA.
func (d *Delayable) Set(opts ...job.Option) *Delayable {
	for _, opt := range opts {
		opt(&d.opts)
	}
	return d
}

// Call captures the method and its arguments.
func (d *Delayable) Call(method string, args []any, kwargs map[string]any) *Delayable {
	d.method = method
	d.args = args
	d.kwargs = kwargs
	return d
}

// OnDone makes children start once d is done.
func (d *Delayable) OnDone(children ...Node) *Delayable {
	for _, child := range children {
		d.g.addEdge(d, child)
	}
	return d
}

// Delay stores the graph reachable from d and returns the job uuids.
func (d *Delayable) Delay(ctx context.Context) ([]string, error) {
	return d.c.delay(ctx, d.g, nil)
}

// Job returns the job built by the last Delay, or nil.
func (d *Delayable) Job() *job.Job { return d.generated }

// UUID returns the uuid of the job built by the last Delay. After an
// identity hit it is the uuid of the existing job.
func (d *Delayable) UUID() string {
	if d.generated == nil {
		return ""
	}
	return d.generated.UUID
}

// Split cuts d into delayables of at most size records each, grouped.
// Each part keeps the method, arguments and options of d, and its
// description ends with "(split i/N)".
func (d *Delayable) Split(size int) (*Group, error) {
	if d.method == "" {
		return nil, errors.Wrapf(queuejob.ErrSplitWithoutCall, "%s", d.records.Model)
	}
	if size < 1 {
		return nil, errors.Newf("delay: split size must be positive, got %d", size)
	}
	total := len(d.records.IDs)
	parts := (total + size - 1) / size
	base := d.description()
	nodes := make([]Node, 0, parts)
	for i := 0; i < parts; i++ {
		part := d.c.Delayable(d.records.Slice(i*size, min((i+1)*size, total)))
		part.opts = d.opts
		part.opts.Description = fmt.Sprintf("%s (split %d/%d)", base, i+1, parts)
		part.Call(d.method, d.args, d.kwargs)
		nodes = append(nodes, part)
	}
	return d.c.Group(nodes...), nil
}

// description resolves the description Build would give the job.
func (d *Delayable) description() string {
	if d.opts.Description != "" {
		return d.opts.Description
	}
	name := d.records.Model + "." + d.method
	if d.c.registry != nil {
		if fn, ok := d.c.registry.Function(name); ok && fn.Description != "" {
			return fn.Description
		}
	}
	return name
}

// build creates the job of d once per Delay.
func (d *Delayable) build() (*job.Job, error) {
	opts := d.opts
	j, err := job.Build(d.c.registry, job.Method{
		Model:   d.records.Model,
		Method:  d.method,
		Records: d.records,
	}, d.args, d.kwargs, func(o *job.Options) { *o = opts })
	if err != nil {
		return nil, err
	}
	if d.c.registry != nil {
		if _, ok := d.c.registry.Function(j.MethodName()); !ok {
			return nil, errors.Wrapf(queuejob.ErrNotMethod, "%s is not registered", j.MethodName())
		}
	}
	return j, nil
}

func (d *Delayable) String() string {
	return fmt.Sprintf("Delayable(%s%v.%s)", d.records.Model, d.records.IDs, d.method)
}

func (d *Delayable) heads() []*Delayable { return []*Delayable{d} }
func (d *Delayable) tails() []*Delayable { return []*Delayable{d} }
func (d *Delayable) graph() *graph { return d.g }

// Chain runs its nodes one after the other.
type Chain struct {
	c     *Client
	g     *graph
	first Node
	last  Node
}

// Chain links nodes so that each starts when the previous one is done.
// It panics without nodes.
func (c *Client) Chain(nodes ...Node) *Chain {
	if len(nodes) == 0 {
		panic("delay: empty chain")
	}
	ch := &Chain{c: c, g: newGraph(), first: nodes[0], last: nodes[len(nodes)-1]}
	ch.g.addVertex(nodes[0])
	for i := 1; i < len(nodes); i++ {
		ch.g.addEdge(nodes[i-1], nodes[i])
	}
	return ch
}

// OnDone makes children start once the last node of the chain is done.
func (ch *Chain) OnDone(children ...Node) *Chain {
	for _, child := range children {
		ch.g.addEdge(ch.last, child)
	}
	return ch
}

// Delay stores the graph reachable from the chain.
func (ch *Chain) Delay(ctx context.Context) ([]string, error) {
	return ch.c.delay(ctx, ch.g, nil)
}

func (ch *Chain) heads() []*Delayable { return ch.first.heads() }
func (ch *Chain) tails() []*Delayable { return ch.last.tails() }
func (ch *Chain) graph() *graph { return ch.g }

// Group runs its nodes in parallel.
type Group struct {
	c       *Client
	g       *graph
	members []Node
}

// Group gathers parallel nodes. OnDone on a group waits for all of them.
func (c *Client) Group(nodes ...Node) *Group {
	gr := &Group{c: c, g: newGraph(), members: nodes}
	for _, n := range nodes {
		gr.g.addVertex(n)
	}
	return gr
}

// OnDone makes children start once every member is done.
func (gr *Group) OnDone(children ...Node) *Group {
	for _, member := range gr.members {
		for _, child := range children {
			gr.g.addEdge(member, child)
		}
	}
	return gr
}

// Delay stores the graph reachable from the group.
func (gr *Group) Delay(ctx context.Context) ([]string, error) {
	return gr.c.delay(ctx, gr.g, nil)
}

// Members returns the nodes of the group.
func (gr *Group) Members() []Node { return gr.members }

func (gr *Group) heads() []*Delayable {
	var out []*Delayable
	for _, m := range gr.members {
		out = append(out, m.heads()...)
	}
	return out
}

func (gr *Group) tails() []*Delayable {
	var out []*Delayable
	for _, m := range gr.members {
		out = append(out, m.tails()...)
	}
	return out
}

func (gr *Group) graph() *graph { return gr.g }

package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/job"
)

// Conn is a runner connection to a Store tagged with an application
// name, the in-memory counterpart of a pg_stat_activity backend.
type Conn struct {
	*Store
	applicationName string
}

// Connect opens a tagged connection. Connections opened earlier are older.
func (m *Store) Connect(applicationName string) *Conn {
	c := &Conn{Store: m, applicationName: applicationName}
	m.mu.Lock()
	m.conns = append(m.conns, c)
	m.mu.Unlock()
	return c
}

// ApplicationName returns the connection tag.
func (c *Conn) ApplicationName() string { return c.applicationName }

// IsLeader reports whether c is the oldest open connection whose tag has
// the jobrunner_ prefix.
func (c *Conn) IsLeader(_ context.Context) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, other := range c.conns {
		if strings.HasPrefix(other.applicationName, "jobrunner_") {
			return other == c, nil
		}
	}
	return false, nil
}

// Close closes the connection, not the store.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns = slices.DeleteFunc(c.conns, func(o *Conn) bool { return o == c })
	return nil
}

// Databases is a set of named memory stores with the administrative
// queue_job_db_listener channel.
type Databases struct {
	mu  sync.RWMutex
	dbs map[string]*Store
	hub *hub
}

// NewDatabases returns an empty set.
func NewDatabases() *Databases {
	return &Databases{dbs: make(map[string]*Store), hub: newHub()}
}

// Add creates the database name if needed, announces it and returns it.
func (d *Databases) Add(name string) *Store {
	d.mu.Lock()
	s, ok := d.dbs[name]
	if !ok {
		s = New()
		d.dbs[name] = s
	}
	d.mu.Unlock()
	d.hub.publish("add " + name)
	return s
}

// Remove announces that name is no longer served. The store is kept.
func (d *Databases) Remove(name string) {
	d.hub.publish("remove " + name)
}

// Get returns the database name.
func (d *Databases) Get(name string) (*Store, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.dbs[name]
	return s, ok
}

// Names returns the database names, sorted.
func (d *Databases) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.dbs))
	for n := range d.dbs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Connect opens a tagged connection to the database name.
func (d *Databases) Connect(_ context.Context, name, applicationName string) (*Conn, error) {
	s, ok := d.Get(name)
	if !ok {
		return nil, errors.Wrapf(queuejob.ErrUnknownDatabase, "%q", name)
	}
	return s.Connect(applicationName), nil
}

// ListenDatabases subscribes to the administrative channel.
func (d *Databases) ListenDatabases(_ context.Context) (job.Subscription, error) {
	return d.hub.subscribe(), nil
}

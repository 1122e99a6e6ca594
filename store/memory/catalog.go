package memory

import (
	"context"
	"sort"

	"github.com/xraph/queuejob/job"
)

// UpsertChannel stores a channel record by name.
func (m *Store) UpsertChannel(_ context.Context, c job.ChannelRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[c.Name] = c
	return nil
}

// ListChannels returns channel records sorted by name.
func (m *Store) ListChannels(_ context.Context) ([]job.ChannelRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]job.ChannelRecord, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, nil
}

// UpsertFunction stores a function configuration by name.
func (m *Store) UpsertFunction(_ context.Context, fn job.Function) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.functions[fn.Name()] = fn
	return nil
}

// ListFunctions returns function configurations sorted by name.
func (m *Store) ListFunctions(_ context.Context) ([]job.Function, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]job.Function, 0, len(m.functions))
	for _, fn := range m.functions {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name() < out[k].Name() })
	return out, nil
}

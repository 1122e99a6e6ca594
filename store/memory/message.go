package memory

import (
	"context"
	"sort"
	"time"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/id"
	"github.com/xraph/queuejob/message"
)

// PostMessage persists a message.
func (m *Store) PostMessage(_ context.Context, msg *message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *msg
	m.messages[msg.ID.String()] = &cp
	return nil
}

// ListMessages returns messages matching opts, oldest first.
func (m *Store) ListMessages(_ context.Context, opts message.ListOpts) ([]*message.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*message.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		if opts.JobUUID != "" && msg.JobUUID != opts.JobUUID {
			continue
		}
		if opts.Unread && msg.ReadAt != nil {
			continue
		}
		cp := *msg
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.Before(result[k].CreatedAt) })
	return page(result, opts.Offset, opts.Limit), nil
}

// GetMessage retrieves a message by ID.
func (m *Store) GetMessage(_ context.Context, messageID id.ID) (*message.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[messageID.String()]
	if !ok {
		return nil, queuejob.ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

// MarkMessageRead sets ReadAt on a message.
func (m *Store) MarkMessageRead(_ context.Context, messageID id.ID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[messageID.String()]
	if !ok {
		return queuejob.ErrMessageNotFound
	}
	msg.ReadAt = &at
	return nil
}

// PurgeMessages removes messages created before the given time.
func (m *Store) PurgeMessages(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, msg := range m.messages {
		if msg.CreatedAt.Before(before) {
			delete(m.messages, key)
			count++
		}
	}
	return count, nil
}

// CountMessages returns the number of stored messages.
func (m *Store) CountMessages(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.messages)), nil
}

package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/xraph/queuejob/api"
	"github.com/xraph/queuejob/cron"
	"github.com/xraph/queuejob/id"
	"github.com/xraph/queuejob/job"
)

// ListCrons returns the cron entries of db.
func (c *Client) ListCrons(ctx context.Context, db string) ([]*cron.Entry, error) {
	var entries []*cron.Entry
	q := url.Values{"limit": {"0"}}
	err := c.do(ctx, http.MethodGet, dbPath(db, "/crons"), q, nil, &entries)
	return entries, err
}

// EnableCron enables an entry; its next run is computed from now.
func (c *Client) EnableCron(ctx context.Context, db string, entryID id.ID) (*cron.Entry, error) {
	return c.cronAction(ctx, db, entryID, "/enable")
}

// DisableCron disables an entry.
func (c *Client) DisableCron(ctx context.Context, db string, entryID id.ID) (*cron.Entry, error) {
	return c.cronAction(ctx, db, entryID, "/disable")
}

func (c *Client) cronAction(ctx context.Context, db string, entryID id.ID, action string) (*cron.Entry, error) {
	var e cron.Entry
	if err := c.do(ctx, http.MethodPost, dbPath(db, "/crons/"+entryID.String()+action), nil, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteCron removes an entry.
func (c *Client) DeleteCron(ctx context.Context, db string, entryID id.ID) error {
	return c.do(ctx, http.MethodDelete, dbPath(db, "/crons/"+entryID.String()), nil, nil, nil)
}

// Channels returns the channel configuration stored in db.
func (c *Client) Channels(ctx context.Context, db string) ([]job.ChannelRecord, error) {
	var channels []job.ChannelRecord
	err := c.do(ctx, http.MethodGet, dbPath(db, "/channels"), nil, nil, &channels)
	return channels, err
}

// Stats returns the job counts of db and the activity of the server.
func (c *Client) Stats(ctx context.Context, db string) (*api.StatsResponse, error) {
	var stats api.StatsResponse
	if err := c.do(ctx, http.MethodGet, dbPath(db, "/stats"), nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

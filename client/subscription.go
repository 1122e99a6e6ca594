package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"github.com/xraph/queuejob/webnotify"
)

// Watch streams the notifications of user uid. The channel is closed when
// ctx is done or the connection drops for good.
func (c *Client) Watch(ctx context.Context, uid int64) (<-chan webnotify.Notification, error) {
	conn, err := c.dial(ctx, uid)
	if err != nil {
		return nil, err
	}

	ch := make(chan webnotify.Notification, 64)
	go c.readLoop(ctx, uid, conn, ch)
	return ch, nil
}

func (c *Client) dial(ctx context.Context, uid int64) (*websocket.Conn, error) {
	wsURL, err := url.Parse(c.url("/queue_job/notifications", url.Values{"uid": {strconv.FormatInt(uid, 10)}}))
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/client: notifications url")
	}
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}

	header := http.Header{}
	if c.user != "" {
		(&http.Request{Header: header}).SetBasicAuth(c.user, c.password)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, errors.WithSecondaryError(decodeError(resp), err)
		}
		return nil, errors.Wrap(err, "queuejob/client: websocket dial")
	}
	return conn, nil
}

// readLoop forwards notifications until ctx is done, redialing a dropped
// connection when reconnection is enabled.
func (c *Client) readLoop(ctx context.Context, uid int64, conn *websocket.Conn, ch chan<- webnotify.Notification) {
	defer close(ch)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("notification read error", slog.Int64("user_id", uid), slog.String("error", err.Error()))
			if !c.reconnect {
				return
			}
			next, ok := c.redial(ctx, uid)
			if !ok {
				return
			}
			stop()
			conn = next
			stop = context.AfterFunc(ctx, func() { _ = next.Close() })
			continue
		}

		var n webnotify.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			c.logger.Warn("invalid notification", slog.String("error", err.Error()))
			continue
		}
		select {
		case ch <- n:
		case <-ctx.Done():
			return
		}
	}
}

// redial attempts to reconnect with exponential backoff.
func (c *Client) redial(ctx context.Context, uid int64) (*websocket.Conn, bool) {
	delay := c.baseDelay
	for i := range c.maxRetries {
		c.logger.Info("notification relay reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, false
		}

		conn, err := c.dial(ctx, uid)
		if err != nil {
			c.logger.Warn("notification relay reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}
		c.logger.Info("notification relay reconnected")
		return conn, true
	}
	c.logger.Error("notification relay: max reconnection attempts reached")
	return nil, false
}

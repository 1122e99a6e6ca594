package webnotify

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 54 * time.Second

	// Browsers only send control frames.
	maxMessageSize = 512
)

// Subscriber is the part of a Redis client the Relay needs.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayLogger sets the logger.
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = l }
}

// WithCheckOrigin sets the origin check of the WebSocket upgrade.
func WithCheckOrigin(check func(*http.Request) bool) RelayOption {
	return func(r *Relay) { r.upgrader.CheckOrigin = check }
}

// Relay forwards a user's notifications to a WebSocket. The user is given
// by the uid query parameter; authenticating it is left to the middleware
// in front of the relay.
type Relay struct {
	client   Subscriber
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewRelay creates a Relay subscribing through client.
func NewRelay(client Subscriber, opts ...RelayOption) *Relay {
	r := &Relay{
		client: client,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ServeHTTP implements http.Handler.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	uid, err := strconv.ParseInt(req.URL.Query().Get("uid"), 10, 64)
	if err != nil || uid <= 0 {
		http.Error(w, "invalid uid", http.StatusBadRequest)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already replied to the client.
		r.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := r.client.Subscribe(ctx, Channel(uid))
	defer sub.Close()
	// Wait for the subscription to be confirmed so no message is missed.
	if _, err := sub.Receive(ctx); err != nil {
		r.logger.Error("subscribe failed", slog.Int64("user_id", uid), slog.String("error", err.Error()))
		_ = conn.Close()
		return
	}

	r.logger.Debug("notification relay opened", slog.Int64("user_id", uid))
	go r.readPump(conn, cancel)
	r.writePump(ctx, conn, sub.Channel())
	r.logger.Debug("notification relay closed", slog.Int64("user_id", uid))
}

// readPump discards what the browser sends and cancels the relay when
// the connection closes.
func (r *Relay) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				r.logger.Warn("websocket read error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (r *Relay) writePump(ctx context.Context, conn *websocket.Conn, messages <-chan *redis.Message) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				r.logger.Warn("websocket write error", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

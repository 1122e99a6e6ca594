//go:build integration

package webnotify_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/queuejob/webnotify"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRelay_ForwardsNotifications(t *testing.T) {
	client := setupRedis(t)

	srv := httptest.NewServer(webnotify.NewRelay(client))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?uid=9"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	n := webnotify.NewNotifier(client, nil)
	ctx := context.Background()
	// The relay subscribes after the upgrade.
	require.Eventually(t, func() bool {
		subs, err := client.PubSubNumSub(ctx, webnotify.Channel(9)).Result()
		return err == nil && subs[webnotify.Channel(9)] == 1
	}, 5*time.Second, 20*time.Millisecond)

	want := webnotify.Notification{UserID: 9, JobUUID: "u-1", State: "failed", Message: "boom"}
	require.NoError(t, n.Publish(ctx, want))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got webnotify.Notification
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, want, got)
}

func TestRelay_RejectsMissingUID(t *testing.T) {
	client := setupRedis(t)

	srv := httptest.NewServer(webnotify.NewRelay(client))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

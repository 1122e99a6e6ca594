// Package client is a Go client for the HTTP API of a queue server.
//
// Usage:
//
//	c, err := client.New("http://localhost:8069",
//	    client.WithBasicAuth("runner", "secret"),
//	)
//
//	// Requeue failed jobs.
//	res, err := c.Requeue(ctx, "odoo", []string{uuid})
//
//	// Watch the notifications of user 2.
//	ch, err := c.Watch(ctx, 2)
//	for n := range ch {
//	    fmt.Printf("job %s: %s\n", n.JobUUID, n.Message)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/api"
)

// Client talks to the admin API and the notification relay of a server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	user       string
	password   string
	logger     *slog.Logger

	// Reconnection of Watch.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "queuejob/client: parse base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Newf("queuejob/client: unsupported scheme %q", u.Scheme)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx answer of the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("queuejob/client: %d %s", e.StatusCode, e.Message)
}

var codeErrors = map[string]error{
	api.CodeUnknownDatabase: queuejob.ErrUnknownDatabase,
	api.CodeJobNotFound:     queuejob.ErrJobNotFound,
	api.CodeCronNotFound:    queuejob.ErrCronNotFound,
	api.CodeChannelNotFound: queuejob.ErrChannelNotFound,
	api.CodeInvalidState:    queuejob.ErrInvalidState,
	api.CodePoolSaturated:   queuejob.ErrPoolSaturated,
}

// Is maps the error code back to the server-side sentinel errors.
func (e *APIError) Is(target error) bool {
	sentinel, ok := codeErrors[e.Code]
	return ok && sentinel == target
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a request and decodes a JSON answer into out when out is set.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "queuejob/client: marshal request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), reader)
	if err != nil {
		return errors.Wrap(err, "queuejob/client: build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "queuejob/client: %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "queuejob/client: decode response")
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var body api.ErrorResponse
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Code = body.Code
	}
	return apiErr
}

// Package share talks to the remote share sink: the service that hosts
// read-only copies of shared sessions. The core treats it as a collaborator;
// every call here is driven by pkg/session.
package share

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Info is a minted share link.
type Info struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// Client is the share sink contract.
type Client interface {
	// Create mints a secret and public URL for a session.
	Create(ctx context.Context, sessionID string) (*Info, error)

	// Sync mirrors one storage record to the sink. key is the joined
	// storage path (e.g. "session/prj/ses_...").
	Sync(ctx context.Context, secret, key string, value any) error

	// Delete removes the shared copy of a session.
	Delete(ctx context.Context, sessionID, secret string) error
}

// HTTPClient implements Client over the sink's JSON API.
// Sync traffic is rate limited because a share of a long session mirrors
// every message and part in one burst.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient creates a share client for the given sink base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
	}
	return nil
}

// Create mints a secret and public URL for a session.
func (c *HTTPClient) Create(ctx context.Context, sessionID string) (*Info, error) {
	var info Info
	err := c.post(ctx, "/share_create", map[string]string{"sessionID": sessionID}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Sync mirrors one storage record to the sink.
func (c *HTTPClient) Sync(ctx context.Context, secret, key string, value any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.post(ctx, "/share_sync", map[string]any{
		"secret":  secret,
		"key":     key,
		"content": value,
	}, nil)
}

// Delete removes the shared copy of a session.
func (c *HTTPClient) Delete(ctx context.Context, sessionID, secret string) error {
	return c.post(ctx, "/share_delete", map[string]string{
		"sessionID": sessionID,
		"secret":    secret,
	}, nil)
}

// Package sdk provides the client-side library for talking to a Syncline
// daemon. The Client is the networked replication endpoint: every request
// carries the principal's bearer credential, and the daemon's access gate
// decides what the principal may read or write.
package sdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/syncline-dev/syncline/pkg/replicate"
)

// Client is a remote client for a Syncline daemon. It implements
// replicate.Endpoint.
type Client struct {
	baseURL string
	name    string
	token   string
	http    *http.Client
}

// Connect builds a client for the daemon at addr. addr may be a bare
// host:port (http is assumed) or a full URL. The token is attached as a
// bearer credential on every request; an empty token makes the client
// anonymous. If SYNCLINE_INSECURE_TLS is "true" the client skips chain
// verification, for daemons running self-signed certificates.
func Connect(addr, token string) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon address %q: %w", addr, err)
	}

	transport := http.DefaultTransport
	if os.Getenv("SYNCLINE_INSECURE_TLS") == "true" {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		baseURL: strings.TrimSuffix(parsed.String(), "/"),
		name:    parsed.Host,
		token:   token,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}, nil
}

// Name identifies the remote data source.
func (c *Client) Name() string { return c.name }

// Gate returns AllowAll: the remote side enforces its own rules and
// surfaces denials as authorization failures on the wire.
func (c *Client) Gate() replicate.Gate { return replicate.AllowAll }

// do issues one request, retrying transient network failures with
// backoff. Authorization responses are never retried.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			case <-ctx.Done():
				return replicate.NewTransportError(c.name, 0, ctx.Err())
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return replicate.NewTransportError(c.name, 0, err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return &replicate.Error{
				Code:     replicate.CodeAuthorization,
				Message:  errorMessage(responseBody),
				Endpoint: c.name,
				Status:   resp.StatusCode,
			}
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return replicate.NewTransportError(c.name, resp.StatusCode,
				fmt.Errorf("%s %s: %s", method, path, errorMessage(responseBody)))
		}

		if out != nil {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return replicate.NewTransportError(c.name, resp.StatusCode,
					fmt.Errorf("decode response for %s %s: %w", method, path, err))
			}
		}
		return nil
	}

	return replicate.NewTransportError(c.name, 0,
		fmt.Errorf("failed after 3 attempts: %w", lastErr))
}

// --- replicate.Endpoint ---

func (c *Client) Checkpoint(ctx context.Context, model string) (int64, error) {
	var out struct {
		Checkpoint int64 `json:"checkpoint"`
	}
	err := c.do(ctx, http.MethodGet, "/api/models/"+model+"/checkpoint", nil, &out)
	return out.Checkpoint, err
}

func (c *Client) Delta(ctx context.Context, model string, since int64) ([]replicate.Change, error) {
	var out []replicate.Change
	path := "/api/models/" + model + "/changes?since=" + strconv.FormatInt(since, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Head(ctx context.Context, model string, ids []string) ([]replicate.Change, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []replicate.Change
	path := "/api/models/" + model + "/changes/head?ids=" + url.QueryEscape(strings.Join(ids, ","))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Apply(ctx context.Context, model string, changes []replicate.Change) error {
	return c.do(ctx, http.MethodPost, "/api/models/"+model+"/apply", changes, nil)
}

// --- record CRUD ---

func (c *Client) List(ctx context.Context, model string) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/models/"+model+"/records", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, model, id string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/models/"+model+"/records/"+id, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, model string, record map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, "/api/models/"+model+"/records", record, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, model, id string, patch map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodPut, "/api/models/"+model+"/records/"+id, patch, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, model, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/models/"+model+"/records/"+id, nil, nil)
}

func errorMessage(body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(body))
}

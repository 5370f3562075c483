// internal/common/http/client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxBodyBytes = 10 << 20

// Client is a small JSON client shared by the outbound integrations. It holds
// a base URL and a fixed header set; it never retries.
type Client struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		headers: map[string]string{
			"Accept": "application/json",
		},
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithBaseURL returns a copy of the client rooted at baseURL.
func (c *Client) WithBaseURL(baseURL string) *Client {
	cp := c.clone()
	cp.baseURL = strings.TrimRight(baseURL, "/")
	return cp
}

// WithHeader returns a copy of the client that sends an extra header.
func (c *Client) WithHeader(key, value string) *Client {
	cp := c.clone()
	cp.headers[key] = value
	return cp
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) clone() *Client {
	headers := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		headers[k] = v
	}
	return &Client{baseURL: c.baseURL, headers: headers, httpClient: c.httpClient}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	return c.httpClient.Do(req)
}

// DoJSON sends body (if non-nil) as JSON to baseURL+path and reads the whole
// response. Non-2xx statuses are returned as a Response, not an error; only
// transport failures produce an error.
func (c *Client) DoJSON(ctx context.Context, method, path string, query url.Values, body interface{}) (*Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (r *Response) Decode(v interface{}) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

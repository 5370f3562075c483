// Package ollama is a client for a local Ollama daemon: completion,
// embeddings and the installed model list.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	httpclient "jira-support-bot/internal/common/http"
)

const DefaultBaseURL = "http://localhost:11434"

// ErrModelNotFound is returned by EnsureModel when the daemon does not have
// the requested model.
var ErrModelNotFound = errors.New("model not installed")

// StatusError is a non-2xx answer from the daemon.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ollama %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ollama %s: HTTP %d", e.Endpoint, e.StatusCode)
}

type Options struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type GenerateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options Options `json:"options"`
}

type GenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingsResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Model is one entry of /api/tags.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

type tagsResponse struct {
	Models []Model `json:"models"`
}

type Client struct {
	http *httpclient.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{http: httpclient.NewClient(timeout).WithBaseURL(baseURL)}
}

func (c *Client) BaseURL() string {
	return c.http.BaseURL()
}

func (c *Client) post(ctx context.Context, endpoint string, body, out interface{}) error {
	resp, err := c.http.DoJSON(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return fmt.Errorf("ollama %s: %w", endpoint, err)
	}
	if !resp.OK() {
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(resp.Body))}
	}
	return resp.Decode(out)
}

// Generate runs a single non-streaming completion.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	req.Stream = false

	var out GenerateResponse
	if err := c.post(ctx, "/api/generate", req, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama /api/generate: %s", out.Error)
	}
	return out.Response, nil
}

// Embed returns the embedding vector for prompt.
func (c *Client) Embed(ctx context.Context, model, prompt string) ([]float64, error) {
	var out embeddingsResponse
	if err := c.post(ctx, "/api/embeddings", embeddingsRequest{Model: model, Prompt: prompt}, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama /api/embeddings: empty embedding for model %s", model)
	}
	return out.Embedding, nil
}

// ListModels returns the models installed on the daemon.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	resp, err := c.http.DoJSON(ctx, http.MethodGet, "/api/tags", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("ollama /api/tags: %w", err)
	}
	if !resp.OK() {
		return nil, &StatusError{Endpoint: "/api/tags", StatusCode: resp.StatusCode}
	}

	var out tagsResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// EnsureModel checks the daemon is reachable and has model installed. A bare
// name also matches its ":latest" tag.
func (c *Client) EnsureModel(ctx context.Context, model string) error {
	models, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		if m.Name == model || m.Name == model+":latest" {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrModelNotFound, model)
}

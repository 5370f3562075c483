// Package generation produces the final reply text. A model backend is used
// when one initialized; the template fallback covers everything else and
// never fails.
package generation

import (
	"context"
	"fmt"

	"jira-support-bot/internal/common/ollama"
)

const (
	BackendOllama   = "ollama"
	BackendTemplate = "template"
)

// Backend generates text for an assembled prompt.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// OllamaOptions are the sampling knobs sent with every request.
type OllamaOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// OllamaBackend generates through a local Ollama daemon.
type OllamaBackend struct {
	client *ollama.Client
	opts   OllamaOptions
}

// NewOllamaBackend verifies the daemon is reachable and has the model
// installed. On error the caller runs in template-only mode.
func NewOllamaBackend(ctx context.Context, client *ollama.Client, opts OllamaOptions) (*OllamaBackend, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("ollama model is not configured")
	}
	if err := client.EnsureModel(ctx, opts.Model); err != nil {
		return nil, fmt.Errorf("ollama backend unavailable: %w", err)
	}
	return &OllamaBackend{client: client, opts: opts}, nil
}

func (b *OllamaBackend) Name() string { return BackendOllama }

func (b *OllamaBackend) Generate(ctx context.Context, prompt string) (string, error) {
	return b.client.Generate(ctx, ollama.GenerateRequest{
		Model:  b.opts.Model,
		Prompt: prompt,
		Options: ollama.Options{
			Temperature: b.opts.Temperature,
			TopP:        0.9,
			NumPredict:  b.opts.MaxTokens,
		},
	})
}

// Package knowledge is the documentation search tier: it embeds the user's
// question and ranks pre-indexed help passages by cosine similarity.
package knowledge

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "jira-support-bot/internal/common/errors"
	"jira-support-bot/internal/common/ollama"
)

const (
	DefaultTopK = 5
	MaxTopK     = 20
)

// ErrEmptyIndex is reported by Ready when there is nothing to search.
var ErrEmptyIndex = errors.New("knowledge index is empty")

// Passage is one ranked documentation chunk. Score is cosine similarity in
// [-1, 1].
type Passage struct {
	ID        string  `json:"id,omitempty"`
	Text      string  `json:"text"`
	Title     string  `json:"title,omitempty"`
	SourceURL string  `json:"source_url"`
	Score     float64 `json:"score"`
}

// Embedder turns text into a vector in the corpus embedding space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Index ranks stored passages against a query vector.
type Index interface {
	Query(ctx context.Context, vector []float64, topK int) ([]Passage, error)
	Ready(ctx context.Context) error
	Name() string
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// OllamaEmbedder embeds through the daemon's embeddings endpoint.
type OllamaEmbedder struct {
	client *ollama.Client
	model  string
}

func NewOllamaEmbedder(client *ollama.Client, model string) *OllamaEmbedder {
	return &OllamaEmbedder{client: client, model: model}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return e.client.Embed(ctx, e.model, text)
}

// Searcher combines an embedder and an index. It never returns an error:
// every failure degrades to an empty result.
type Searcher struct {
	embedder Embedder
	index    Index
	timeout  time.Duration
	topK     int
	logger   Logger
}

func NewSearcher(embedder Embedder, index Index, topK int, timeout time.Duration, logger Logger) *Searcher {
	return &Searcher{
		embedder: embedder,
		index:    index,
		timeout:  timeout,
		topK:     boundTopK(topK),
		logger:   logger,
	}
}

func boundTopK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}

// Search returns up to topK passages sorted by descending score. topK <= 0
// uses the configured default.
func (s *Searcher) Search(ctx context.Context, query string, topK int) []Passage {
	if s == nil || s.index == nil || s.embedder == nil {
		return nil
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	if topK <= 0 {
		topK = s.topK
	}
	topK = boundTopK(topK)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.warn(err, "embed")
		return nil
	}

	passages, err := s.index.Query(ctx, vector, topK)
	if err != nil {
		s.warn(err, "query")
		return nil
	}

	s.logger.Debug("Documentation search completed", map[string]interface{}{
		"index":   s.index.Name(),
		"results": len(passages),
	})
	return passages
}

// Ready reports whether the index can serve queries.
func (s *Searcher) Ready(ctx context.Context) error {
	if s == nil || s.index == nil {
		return ErrEmptyIndex
	}
	return s.index.Ready(ctx)
}

func (s *Searcher) warn(err error, stage string) {
	stdErr := apperrors.NewSearchUnavailableError(err)
	s.logger.Warn("Documentation search unavailable", map[string]interface{}{
		"stage":     stage,
		"index":     s.index.Name(),
		"errorCode": stdErr.Code,
		"error":     err.Error(),
	})
}

package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jira-support-bot/internal/assistant/intent"
	"jira-support-bot/internal/assistant/knowledge"
	apperrors "jira-support-bot/internal/common/errors"
	"jira-support-bot/internal/common/jira"
	"jira-support-bot/internal/models"
)

const (
	DefaultMaxResponseLength = 500
	DefaultHistoryTurns      = 5
)

// Logger is the subset of the service logger the engine needs.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// Request carries everything a reply may be grounded on. At most one of API
// and Passages is normally set.
type Request struct {
	Message  string
	History  []models.ConversationTurn
	Intent   intent.Intent
	Params   map[string]string
	API      *jira.Result
	Passages []knowledge.Passage
}

// Output is the produced reply. Err records why the model was bypassed and
// is informational only.
type Output struct {
	Text         string
	Backend      string
	UsedFallback bool
	Err          error
}

type EngineConfig struct {
	MaxResponseLength int
	HistoryTurns      int
	Timeout           time.Duration
}

type Engine struct {
	backend Backend
	cfg     EngineConfig
	logger  Logger
}

// NewEngine builds an engine. A nil backend runs in template-only mode.
func NewEngine(backend Backend, cfg EngineConfig, logger Logger) *Engine {
	if cfg.MaxResponseLength <= 0 {
		cfg.MaxResponseLength = DefaultMaxResponseLength
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = DefaultHistoryTurns
	}
	return &Engine{backend: backend, cfg: cfg, logger: logger}
}

// Mode reports the active backend name.
func (e *Engine) Mode() string {
	if e.backend == nil {
		return BackendTemplate
	}
	return e.backend.Name()
}

// Generate produces a non-empty reply. Model failures, timeouts and empty
// completions fall back to the templates.
func (e *Engine) Generate(ctx context.Context, req Request) Output {
	if e.backend != nil {
		text, err := e.generateWithModel(ctx, req)
		if err == nil {
			return Output{Text: text, Backend: e.backend.Name()}
		}
		if e.logger != nil {
			e.logger.Warn("Model generation failed, using template", map[string]interface{}{
				"backend": e.backend.Name(),
				"error":   err.Error(),
			})
		}
		return Output{Text: Template(req), Backend: BackendTemplate, UsedFallback: true, Err: err}
	}

	return Output{Text: Template(req), Backend: BackendTemplate, UsedFallback: true}
}

func (e *Engine) generateWithModel(ctx context.Context, req Request) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewGenerationFailedError(fmt.Errorf("panic: %v", r))
		}
	}()

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	prompt := BuildPrompt(e.history(req.History), contextFor(req), req.Message)
	raw, genErr := e.backend.Generate(ctx, prompt)
	if genErr != nil {
		if errors.Is(genErr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", apperrors.NewGenerationTimeoutError()
		}
		return "", apperrors.NewGenerationFailedError(genErr)
	}

	cleaned := CleanResponse(raw, e.cfg.MaxResponseLength)
	if cleaned == "" {
		return "", apperrors.NewGenerationFailedError(errors.New("empty completion"))
	}
	if e.logger != nil {
		e.logger.Debug("Model reply generated", map[string]interface{}{
			"prompt_chars": len(prompt),
			"reply_chars":  len(cleaned),
		})
	}
	return cleaned, nil
}

func (e *Engine) history(turns []models.ConversationTurn) []models.ConversationTurn {
	n := e.cfg.HistoryTurns
	if len(turns) > n {
		return turns[len(turns)-n:]
	}
	return turns
}

func contextFor(req Request) string {
	if req.API != nil {
		_, text := apiFacts(req.API)
		return text
	}
	if len(req.Passages) > 0 {
		return PassagesContext(req.Passages)
	}
	return ""
}

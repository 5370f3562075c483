// Package router is the orchestrator. It classifies a message, extracts
// parameters for mutations, walks the retrieval tiers (tracking system API,
// documentation search) and always finishes with generation. Every path
// ends in a ChatResponse; no failure escapes Handle.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"jira-support-bot/internal/assistant/extractor"
	"jira-support-bot/internal/assistant/generation"
	"jira-support-bot/internal/assistant/intent"
	"jira-support-bot/internal/assistant/knowledge"
	"jira-support-bot/internal/common/jira"
	"jira-support-bot/internal/common/logger"
	"jira-support-bot/internal/common/metrics"
	"jira-support-bot/internal/models"

	"github.com/google/uuid"
)

const (
	DefaultRetryDelay         = 500 * time.Millisecond
	DefaultTier1Budget        = 8 * time.Second
	DefaultFallbackConfidence = 0.1
)

var (
	ErrGatewayUnavailable = errors.New("tracking system gateway is not configured")
	errTierPanic          = errors.New("tier panicked")
)

// Gateway is the tracking system surface the router calls. Both
// *jira.Client and *jira.CachedClient satisfy it.
type Gateway interface {
	ListEpics(ctx context.Context, projectKey string) (*jira.Result, error)
	GetEpic(ctx context.Context, key string) (*jira.Result, error)
	CreateEpic(ctx context.Context, projectKey, summary, description string) (*jira.Result, error)
	UpdateEpic(ctx context.Context, key string, fields map[string]interface{}) (*jira.Result, error)
	ListSprints(ctx context.Context, boardID int) (*jira.Result, error)
	GetSprint(ctx context.Context, sprintID int) (*jira.Result, error)
	CreateSprint(ctx context.Context, name string, boardID int, startDate, endDate string) (*jira.Result, error)
	UpdateSprint(ctx context.Context, sprintID int, fields map[string]interface{}) (*jira.Result, error)
	ListSprintIssues(ctx context.Context, sprintID int) (*jira.Result, error)
}

// Searcher is the documentation tier. It soft-fails to an empty list.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) []knowledge.Passage
}

// Generator is the final tier. It never fails.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) generation.Output
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

type Config struct {
	RetryDelay         time.Duration
	Tier1Budget        time.Duration
	TopK               int
	FallbackConfidence float64
}

// Dependencies are the collaborators injected into the router. Gateway and
// Search may be nil; the matching tier is then treated as failed.
type Dependencies struct {
	Classifier *intent.Classifier
	Extractor  *extractor.Extractor
	Gateway    Gateway
	Search     Searcher
	Generator  Generator
	Sessions   models.SessionStore
}

type Router struct {
	deps   Dependencies
	cfg    Config
	logger Logger
}

func New(deps Dependencies, cfg Config, log Logger) *Router {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if deps.Classifier == nil {
		deps.Classifier = intent.NewClassifier(intent.DefaultThreshold)
	}
	if deps.Extractor == nil {
		deps.Extractor = extractor.New()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Tier1Budget <= 0 {
		cfg.Tier1Budget = DefaultTier1Budget
	}
	if cfg.TopK <= 0 {
		cfg.TopK = knowledge.DefaultTopK
	}
	if cfg.FallbackConfidence <= 0 {
		cfg.FallbackConfidence = DefaultFallbackConfidence
	}
	return &Router{deps: deps, cfg: cfg, logger: log}
}

// run is the per-request routing state. The Router itself holds none.
type run struct {
	message   string
	sessionID string
	history   []models.ConversationTurn

	class      intent.Classification
	params     *extractor.Parameters
	extractErr error
	result     *jira.Result
	tier1Err   error
	retries    int
	attempted  bool
	passages   []knowledge.Passage

	route trace
}

// Handle routes one message for a session and records both turns. An empty
// session id gets a fresh one.
func (r *Router) Handle(ctx context.Context, message, sessionID string) (resp *models.ChatResponse) {
	start := time.Now()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	rs := &run{message: message, sessionID: sessionID}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Routing panicked, answering from template", map[string]interface{}{
				"session_id": sessionID,
				"panic":      fmt.Sprint(p),
			})
			resp = r.emergencyResponse(rs)
		}
		r.record(rs, resp)
		metrics.RequestDuration.WithLabelValues(string(rs.class.Intent)).Observe(time.Since(start).Seconds())
	}()

	rs.history = r.history(sessionID)
	if r.deps.Sessions != nil {
		r.deps.Sessions.Append(sessionID, models.ConversationTurn{Role: models.RoleUser, Text: message, Timestamp: time.Now()})
	}

	state := rs.route.enter(StateReceived)
	for state != StateResponded {
		switch state {
		case StateReceived:
			rs.class = r.deps.Classifier.Classify(message)
			metrics.ChatRequests.WithLabelValues(string(rs.class.Intent)).Inc()
			state = rs.route.enter(StateClassified)

		case StateClassified:
			state = rs.route.enter(nextAfterClassify(rs.class.Intent))

		case StateExtracting:
			rs.params, rs.extractErr = r.deps.Extractor.Extract(message, rs.class.Intent)
			state = rs.route.enter(nextAfterExtract(rs.extractErr))

		case StateTier1Attempt:
			rs.result, rs.tier1Err = r.tier1(ctx, rs)
			state = rs.route.enter(nextAfterTier1(rs.result, rs.tier1Err))

		case StateTier2Attempt:
			rs.passages = r.tier2(ctx, rs)
			state = rs.route.enter(nextAfterTier2(rs.passages))

		case StateSynthesizing:
			resp = r.synthesize(ctx, rs)
			state = rs.route.enter(StateResponded)

		default:
			return r.emergencyResponse(rs)
		}
	}

	resp.Metadata["route"] = rs.route.strings()
	return resp
}

// history returns prior turns, read before the current message is appended.
func (r *Router) history(sessionID string) []models.ConversationTurn {
	if r.deps.Sessions == nil {
		return nil
	}
	return r.deps.Sessions.Turns(sessionID)
}

// tier1 resolves query parameters when needed and calls the gateway. Rate
// limits and timeouts get exactly one retry after a fixed delay, as long as
// the tier budget leaves room for it.
func (r *Router) tier1(ctx context.Context, rs *run) (*jira.Result, error) {
	if rs.params == nil {
		params, err := r.deps.Extractor.Extract(rs.message, rs.class.Intent)
		if err != nil {
			metrics.TierAttempts.WithLabelValues("api", "skipped").Inc()
			r.logger.Debug("Query parameters incomplete, skipping tracking system", map[string]interface{}{
				"session_id": rs.sessionID,
				"error":      err.Error(),
			})
			return nil, err
		}
		rs.params = params
	}

	if r.deps.Gateway == nil {
		metrics.TierAttempts.WithLabelValues("api", "skipped").Inc()
		return nil, ErrGatewayUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Tier1Budget)
	defer cancel()

	rs.attempted = true
	res, err := r.attempt(ctx, rs.params)
	if err != nil && retryable(err) {
		deadline, _ := ctx.Deadline()
		if time.Until(deadline) < r.cfg.RetryDelay {
			r.logger.Warn("Tier 1 budget too small for retry", map[string]interface{}{
				"operation": rs.params.Operation,
				"error":     err.Error(),
			})
		} else if wait(ctx, r.cfg.RetryDelay) {
			rs.retries++
			metrics.APIRetries.WithLabelValues(string(rs.params.Operation), kindOf(err)).Inc()
			r.logger.Info("Retrying tracking system call", map[string]interface{}{
				"operation": rs.params.Operation,
				"kind":      kindOf(err),
			})
			res, err = r.attempt(ctx, rs.params)
		}
	}

	if err != nil {
		metrics.TierAttempts.WithLabelValues("api", "failure").Inc()
		r.logger.Warn("Tracking system call failed", map[string]interface{}{
			"session_id": rs.sessionID,
			"operation":  rs.params.Operation,
			"retries":    rs.retries,
			"error":      err.Error(),
		})
		return nil, err
	}

	metrics.TierAttempts.WithLabelValues("api", "success").Inc()
	return res, nil
}

// attempt bounds one gateway call so that a hung first call still leaves the
// retry delay and a second call inside the tier budget.
func (r *Router) attempt(ctx context.Context, p *extractor.Parameters) (*jira.Result, error) {
	timeout := (r.cfg.Tier1Budget - r.cfg.RetryDelay) / 2
	if timeout <= 0 {
		timeout = r.cfg.Tier1Budget
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.call(ctx, p)
}

// call issues one gateway request for the resolved operation.
func (r *Router) call(ctx context.Context, p *extractor.Parameters) (res *jira.Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			res, err = nil, fmt.Errorf("%w: %v", errTierPanic, v)
		}
	}()

	gw := r.deps.Gateway
	get := func(s extractor.Slot) string {
		v, _ := p.Get(s)
		return v
	}

	switch p.Operation {
	case extractor.ListContainers:
		return gw.ListEpics(ctx, get(extractor.SlotContainerKey))
	case extractor.GetContainer:
		return gw.GetEpic(ctx, get(extractor.SlotItemKey))
	case extractor.CreateContainer:
		return gw.CreateEpic(ctx, get(extractor.SlotContainerKey), get(extractor.SlotItemTitle), "")
	case extractor.UpdateContainer:
		return gw.UpdateEpic(ctx, get(extractor.SlotItemKey), map[string]interface{}{"summary": get(extractor.SlotItemTitle)})
	}

	switch p.Operation {
	case extractor.ListWindows:
		board, err := optionalInt(p, extractor.SlotWindowContainerID)
		if err != nil {
			return nil, err
		}
		return gw.ListSprints(ctx, board)
	case extractor.CreateWindow:
		board, err := requiredInt(p, extractor.SlotWindowContainerID)
		if err != nil {
			return nil, err
		}
		return gw.CreateSprint(ctx, get(extractor.SlotItemName), board, "", "")
	}

	id, err := requiredInt(p, extractor.SlotItemKey)
	if err != nil {
		return nil, err
	}
	switch p.Operation {
	case extractor.GetWindow:
		return gw.GetSprint(ctx, id)
	case extractor.UpdateWindow:
		return gw.UpdateSprint(ctx, id, map[string]interface{}{"name": get(extractor.SlotItemName)})
	case extractor.ListWindowItems:
		return gw.ListSprintIssues(ctx, id)
	}
	return nil, fmt.Errorf("unsupported operation %q", p.Operation)
}

func optionalInt(p *extractor.Parameters, slot extractor.Slot) (int, error) {
	if _, ok := p.Get(slot); !ok {
		return 0, nil
	}
	return requiredInt(p, slot)
}

func requiredInt(p *extractor.Parameters, slot extractor.Slot) (int, error) {
	v, _ := p.Get(slot)
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, &jira.APIError{
			Kind:      jira.KindRejected,
			Operation: string(p.Operation),
			Message:   fmt.Sprintf("%s %q is not a numeric id", slot, v),
		}
	}
	return n, nil
}

func retryable(err error) bool {
	apiErr, ok := jira.AsAPIError(err)
	return ok && (apiErr.Kind == jira.KindRateLimited || apiErr.Kind == jira.KindTimeout)
}

func kindOf(err error) string {
	if apiErr, ok := jira.AsAPIError(err); ok {
		return string(apiErr.Kind)
	}
	var missing *extractor.MissingSlotError
	if errors.As(err, &missing) {
		return "missing_slot"
	}
	if errors.Is(err, ErrGatewayUnavailable) {
		return "unavailable"
	}
	return "internal"
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// tier2 searches the documentation with the raw user text.
func (r *Router) tier2(ctx context.Context, rs *run) (passages []knowledge.Passage) {
	if r.deps.Search == nil {
		metrics.TierAttempts.WithLabelValues("docs", "skipped").Inc()
		return nil
	}

	defer func() {
		if v := recover(); v != nil {
			r.logger.Warn("Documentation search panicked", map[string]interface{}{
				"session_id": rs.sessionID,
				"panic":      fmt.Sprint(v),
			})
			passages = nil
			metrics.TierAttempts.WithLabelValues("docs", "failure").Inc()
		}
	}()

	passages = r.deps.Search.Search(ctx, rs.message, r.cfg.TopK)
	if len(passages) == 0 {
		metrics.TierAttempts.WithLabelValues("docs", "empty").Inc()
		return nil
	}
	metrics.TierAttempts.WithLabelValues("docs", "success").Inc()
	return passages
}

// synthesize builds the response for the collected retrieval result.
func (r *Router) synthesize(ctx context.Context, rs *run) *models.ChatResponse {
	meta := r.baseMetadata(rs)
	sources := models.NewSourceSet()
	confidence := rs.class.Confidence

	var text string
	var missing *extractor.MissingSlotError
	switch {
	case errors.As(rs.extractErr, &missing):
		text = generation.Clarification(string(missing.Operation), missing.Slot.Label(missing.Operation))
		meta["missing_slot"] = string(missing.Slot)
		meta["operation"] = string(missing.Operation)
		meta["generation_backend"] = generation.BackendTemplate
		sources.Add(models.SourceFallback)
		confidence = maxFloat(confidence, r.cfg.FallbackConfidence)
		metrics.FallbackResponses.WithLabelValues("missing_slot").Inc()

	default:
		req := generation.Request{
			Message: rs.message,
			History: rs.history,
			Intent:  rs.class.Intent,
			Params:  stringParams(rs.params),
		}
		switch {
		case rs.result != nil:
			req.API = rs.result
		case len(rs.passages) > 0:
			req.Passages = rs.passages
		}

		out := r.generate(ctx, req)
		text = out.Text
		meta["generation_backend"] = out.Backend
		if out.Err != nil {
			meta["generation_error"] = out.Err.Error()
		}

		switch {
		case rs.result != nil:
			sources.Add(models.SourceAPI, models.IntentSource(string(rs.class.Intent)))
			text = r.ensureResourceKey(rs, text)
		case len(rs.passages) > 0:
			sources.Add(models.SourceDocs, models.IntentSource(string(rs.class.Intent)))
			confidence = maxFloat(confidence, rs.passages[0].Score)
		default:
			sources.Add(models.SourceFallback)
			confidence = maxFloat(confidence, r.cfg.FallbackConfidence)
			metrics.FallbackResponses.WithLabelValues("empty_retrieval").Inc()
		}

		if out.UsedFallback {
			sources.Add(models.SourceFallback)
			if rs.result != nil || len(rs.passages) > 0 {
				metrics.FallbackResponses.WithLabelValues("generation").Inc()
			}
		}
	}

	return &models.ChatResponse{
		Response:   text,
		Confidence: clamp(confidence),
		Sources:    sources.Sorted(),
		Metadata:   meta,
		Timestamp:  time.Now(),
	}
}

func (r *Router) generate(ctx context.Context, req generation.Request) (out generation.Output) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Warn("Generation panicked, using template", map[string]interface{}{"panic": fmt.Sprint(v)})
			out = generation.Output{
				Text:         generation.Template(req),
				Backend:      generation.BackendTemplate,
				UsedFallback: true,
				Err:          fmt.Errorf("%w: %v", errTierPanic, v),
			}
		}
	}()

	if r.deps.Generator == nil {
		return generation.Output{Text: generation.Template(req), Backend: generation.BackendTemplate, UsedFallback: true}
	}
	out = r.deps.Generator.Generate(ctx, req)
	if strings.TrimSpace(out.Text) == "" {
		out = generation.Output{Text: generation.Template(req), Backend: generation.BackendTemplate, UsedFallback: true, Err: out.Err}
	}
	return out
}

// ensureResourceKey prepends a confirmation line when a mutation reply does
// not mention the affected resource.
func (r *Router) ensureResourceKey(rs *run, text string) string {
	if rs.params == nil || !rs.params.Operation.IsMutation() {
		return text
	}
	id := rs.result.ResourceID
	if id == "" || strings.Contains(text, id) {
		return text
	}
	return generation.Confirmation(rs.result, stringParams(rs.params)) + "\n\n" + text
}

func (r *Router) baseMetadata(rs *run) map[string]interface{} {
	scores := make(map[string]float64, len(rs.class.Scores))
	for k, v := range rs.class.Scores {
		scores[string(k)] = v
	}

	meta := map[string]interface{}{
		"intent":        string(rs.class.Intent),
		"intent_scores": scores,
		"session_id":    rs.sessionID,
	}

	if rs.params != nil {
		meta["operation"] = string(rs.params.Operation)
		meta["parameters"] = stringParams(rs.params)
	}
	if rs.attempted {
		meta["retries"] = rs.retries
	}
	if rs.tier1Err != nil {
		meta["tier1_error"] = kindOf(rs.tier1Err)
	}
	if rs.result != nil && rs.result.ResourceID != "" {
		meta["resource_id"] = rs.result.ResourceID
	}
	if len(rs.passages) > 0 {
		urls := make([]string, 0, len(rs.passages))
		for _, p := range rs.passages {
			urls = append(urls, p.SourceURL)
		}
		meta["doc_sources"] = urls
		meta["top_source_url"] = rs.passages[0].SourceURL
	}
	return meta
}

// emergencyResponse answers when routing itself panicked.
func (r *Router) emergencyResponse(rs *run) *models.ChatResponse {
	return &models.ChatResponse{
		Response:   generation.GeneralTemplate(rs.message),
		Confidence: r.cfg.FallbackConfidence,
		Sources:    []string{models.SourceFallback},
		Metadata: map[string]interface{}{
			"intent":             string(rs.class.Intent),
			"session_id":         rs.sessionID,
			"generation_backend": generation.BackendTemplate,
			"route":              rs.route.strings(),
		},
		Timestamp: time.Now(),
	}
}

// record appends the assistant turn.
func (r *Router) record(rs *run, resp *models.ChatResponse) {
	if r.deps.Sessions == nil || resp == nil {
		return
	}
	r.deps.Sessions.Append(rs.sessionID, models.ConversationTurn{
		Role:      models.RoleAssistant,
		Text:      resp.Response,
		Timestamp: resp.Timestamp,
	})
}

func stringParams(p *extractor.Parameters) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p.Values))
	for k, v := range p.Values {
		out[string(k)] = v
	}
	return out
}

func maxFloat(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

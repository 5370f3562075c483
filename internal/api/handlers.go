package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"jira-support-bot/internal/assistant/generation"
	"jira-support-bot/internal/assistant/intent"
	"jira-support-bot/internal/common/jira"
	"jira-support-bot/internal/common/validation"
	"jira-support-bot/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const chatRequestSchema = `{
	"type": "object",
	"properties": {
		"message": {"type": "string", "maxLength": 4000},
		"session_id": {"type": "string", "maxLength": 128}
	},
	"required": ["message"]
}`

const resetRequestSchema = `{
	"type": "object",
	"properties": {
		"session_id": {"type": "string", "minLength": 1}
	},
	"required": ["session_id"]
}`

type errorResponse struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind,omitempty"`
	Details []string `json:"details,omitempty"`
}

// bindJSON validates the raw body against schema and decodes it into v.
func bindJSON(c *gin.Context, schema string, v interface{}) bool {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "could not read request body"})
		return false
	}

	result, err := validation.ValidateJSON(schema, body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "request body is not valid JSON"})
		return false
	}
	if !result.Valid {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request", Details: result.GetErrorMessages()})
		return false
	}

	if err := json.Unmarshal(body, v); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "request body is not valid JSON"})
		return false
	}
	return true
}

func (s *Server) chat(c *gin.Context) {
	start := time.Now()

	var req models.ChatRequest
	if !bindJSON(c, chatRequestSchema, &req) {
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(c.GetHeader(SessionHeader))
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	resp := s.deps.Router.Handle(c.Request.Context(), req.Message, sessionID)

	if s.deps.Observability != nil {
		in, _ := resp.Metadata["intent"].(string)
		status := "ok"
		if resp.HasSource(models.SourceFallback) {
			status = "fallback"
		}
		s.deps.Observability.RecordChat(c.Request.Context(), in, status, time.Since(start))
	}

	c.Header(SessionHeader, sessionID)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) health(c *gin.Context) {
	ctx := c.Request.Context()

	components := gin.H{
		"jira":               s.probe(ctx, s.deps.JiraProbe),
		"knowledge_base":     s.probe(ctx, s.deps.KnowledgeProbe),
		"llm":                s.llmStatus(),
		"conversation_store": "healthy",
	}
	if s.deps.WorkflowProbe != nil {
		components["workflow_engine"] = s.probe(ctx, s.deps.WorkflowProbe)
	}

	status := "healthy"
	for _, name := range []string{"jira", "knowledge_base"} {
		if components[name] != "healthy" {
			status = "degraded"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"components": components,
	})
}

func (s *Server) probe(ctx context.Context, p Probe) string {
	if p == nil {
		return "not_configured"
	}
	ctx, cancel := context.WithTimeout(ctx, s.deps.ProbeTimeout)
	defer cancel()
	if err := p(ctx); err != nil {
		if s.logger != nil {
			s.logger.Warn("Health probe failed", map[string]interface{}{"error": err.Error()})
		}
		return "unhealthy"
	}
	return "healthy"
}

func (s *Server) llmStatus() string {
	if s.deps.GenerationMode != nil && s.deps.GenerationMode() == generation.BackendOllama {
		return "healthy"
	}
	return "fallback_mode"
}

func (s *Server) ready(c *gin.Context) {
	if s.deps.Router == nil || s.deps.Sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) listEpics(c *gin.Context) {
	if !s.gatewayConfigured(c) {
		return
	}
	project := strings.ToUpper(strings.TrimSpace(c.Query("project")))
	if project != "" && !jira.ValidProjectKey(project) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "project must be a Jira project key such as TT"})
		return
	}
	res, err := s.deps.Gateway.ListEpics(c.Request.Context(), project)
	s.writeResult(c, res, err)
}

func (s *Server) listSprints(c *gin.Context) {
	if !s.gatewayConfigured(c) {
		return
	}
	board := 0
	if raw := strings.TrimSpace(c.Query("board")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "board must be a positive integer"})
			return
		}
		board = n
	}
	res, err := s.deps.Gateway.ListSprints(c.Request.Context(), board)
	s.writeResult(c, res, err)
}

func (s *Server) listBoards(c *gin.Context) {
	if !s.gatewayConfigured(c) {
		return
	}
	res, err := s.deps.Gateway.ListBoards(c.Request.Context())
	s.writeResult(c, res, err)
}

func (s *Server) gatewayConfigured(c *gin.Context) bool {
	if s.deps.Gateway == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "jira integration is not configured", Kind: "unavailable"})
		return false
	}
	return true
}

var kindStatus = map[jira.Kind]int{
	jira.KindUnauthorized: http.StatusBadGateway,
	jira.KindNotFound:     http.StatusNotFound,
	jira.KindRateLimited:  http.StatusTooManyRequests,
	jira.KindTimeout:      http.StatusGatewayTimeout,
	jira.KindServerError:  http.StatusBadGateway,
	jira.KindUnreachable:  http.StatusServiceUnavailable,
	jira.KindRejected:     http.StatusBadRequest,
}

func (s *Server) writeResult(c *gin.Context, res *jira.Result, err error) {
	if err != nil {
		status := http.StatusBadGateway
		kind := "internal"
		if apiErr, ok := jira.AsAPIError(err); ok {
			kind = string(apiErr.Kind)
			if mapped, found := kindStatus[apiErr.Kind]; found {
				status = mapped
			}
		}
		c.JSON(status, errorResponse{Error: err.Error(), Kind: kind})
		return
	}
	if len(res.Raw) == 0 {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", res.Raw)
}

type resetRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) resetConversation(c *gin.Context) {
	var req resetRequest
	if !bindJSON(c, resetRequestSchema, &req) {
		return
	}
	s.deps.Sessions.Reset(req.SessionID)
	c.JSON(http.StatusOK, gin.H{"status": "reset", "session_id": req.SessionID})
}

func (s *Server) conversationSummary(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		sessionID = strings.TrimSpace(c.GetHeader(SessionHeader))
	}
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "session_id is required"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Sessions.Summary(sessionID, intent.Topics))
}

func (s *Server) ollamaModels(c *gin.Context) {
	if s.deps.Models == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "ollama is not configured", Kind: "unavailable"})
		return
	}
	list, err := s.deps.Models.ListModels(c.Request.Context())
	if err != nil {
		kind := "unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			kind = "timeout"
		}
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error(), Kind: kind})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": list, "count": len(list)})
}

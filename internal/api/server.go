// Package api is the inbound HTTP shell around the router.
package api

import (
	"context"
	"net/http"
	"time"

	"jira-support-bot/internal/common/jira"
	"jira-support-bot/internal/common/observability"
	"jira-support-bot/internal/common/ollama"
	"jira-support-bot/internal/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const SessionHeader = "X-Session-ID"

// Chatter routes one message.
type Chatter interface {
	Handle(ctx context.Context, message, sessionID string) *models.ChatResponse
}

// ReadGateway is the read-only tracking system surface mirrored under /api.
type ReadGateway interface {
	ListEpics(ctx context.Context, projectKey string) (*jira.Result, error)
	ListSprints(ctx context.Context, boardID int) (*jira.Result, error)
	ListBoards(ctx context.Context) (*jira.Result, error)
}

type ModelLister interface {
	ListModels(ctx context.Context) ([]ollama.Model, error)
}

// Probe reports whether a component is reachable.
type Probe func(ctx context.Context) error

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Dependencies wires the server. Only Router and Sessions are required.
type Dependencies struct {
	Router         Chatter
	Sessions       models.SessionStore
	Gateway        ReadGateway
	Models         ModelLister
	JiraProbe      Probe
	KnowledgeProbe Probe
	WorkflowProbe  Probe
	GenerationMode func() string
	Observability  *observability.Observability
	CORSOrigins    []string
	ProbeTimeout   time.Duration
}

type Server struct {
	deps   Dependencies
	logger Logger
	engine *gin.Engine
}

func NewServer(deps Dependencies, logger Logger) *Server {
	if deps.ProbeTimeout <= 0 {
		deps.ProbeTimeout = 3 * time.Second
	}
	s := &Server{deps: deps, logger: logger}
	s.engine = s.setupRoutes()
	return s
}

// Handler returns the configured gin engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors.New(corsConfig(s.deps.CORSOrigins)))

	r.POST("/chat", s.chat)
	r.GET("/health", s.health)
	r.GET("/ready", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/epics/list", s.listEpics)
		apiGroup.GET("/sprints/list", s.listSprints)
		apiGroup.GET("/boards/list", s.listBoards)
	}

	conversation := r.Group("/conversation")
	{
		conversation.POST("/reset", s.resetConversation)
		conversation.GET("/summary", s.conversationSummary)
	}

	r.GET("/ollama/models", s.ollamaModels)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", SessionHeader},
		ExposeHeaders: []string{SessionHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.logger == nil || c.FullPath() == "/metrics" {
			return
		}
		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Error("Request failed", fields)
			return
		}
		s.logger.Info("Request served", fields)
	}
}

// Package app assembles the chat service from configuration. Every optional
// component degrades instead of failing startup: no Redis means uncached
// reads, no model means templates, no corpus means no documentation tier.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"jira-support-bot/internal/api"
	"jira-support-bot/internal/assistant/conversation"
	"jira-support-bot/internal/assistant/extractor"
	"jira-support-bot/internal/assistant/generation"
	"jira-support-bot/internal/assistant/intent"
	"jira-support-bot/internal/assistant/knowledge"
	"jira-support-bot/internal/assistant/router"
	"jira-support-bot/internal/common/camunda"
	"jira-support-bot/internal/common/config"
	"jira-support-bot/internal/common/database"
	"jira-support-bot/internal/common/jira"
	"jira-support-bot/internal/common/logger"
	"jira-support-bot/internal/common/observability"
	"jira-support-bot/internal/common/ollama"

	aq "jira-support-bot/internal/workers/support-chat/answer-question"
)

type App struct {
	Router   *router.Router
	Sessions *conversation.Store
	Engine   *generation.Engine
	Server   *api.Server

	obs    *observability.Observability
	redis  *database.RedisClient
	zeebe  *camunda.Client
	worker *camunda.Worker
	log    logger.Logger
}

// Options tune startup retries. Zero values use the production settings.
type Options struct {
	ConnectRetries int
	RetryDelay     time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectRetries <= 0 {
		o.ConnectRetries = 5
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	return o
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// answerQuestionLoggerAdapter narrows With to the worker's own Logger type.
type answerQuestionLoggerAdapter struct {
	logger.Logger
}

func (a *answerQuestionLoggerAdapter) With(fields map[string]interface{}) aq.Logger {
	return &answerQuestionLoggerAdapter{a.Logger.With(fields)}
}

// New builds every component and starts the optional Zeebe worker.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) *App {
	opts = opts.withDefaults()
	a := &App{log: log, obs: observability.New(cfg.App.Name)}

	// --- Redis read cache (optional) ---
	if cfg.Database.Redis.CacheEnabled() {
		var redis *database.RedisClient
		err := retryWithBackoff(func() error {
			var err error
			redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redis.Ping(ctx)
		}, opts.ConnectRetries, opts.RetryDelay, log, "Redis connection")
		if err != nil {
			log.Warn("redis unavailable, serving tracking reads uncached", map[string]interface{}{"error": err.Error()})
			if redis != nil {
				_ = redis.Close()
			}
		} else {
			a.redis = redis
			log.Info("Redis connected successfully", nil)
		}
	}

	// --- Jira gateway ---
	var (
		gateway     router.Gateway
		readGateway api.ReadGateway
		jiraProbe   api.Probe
	)
	jiraClient, err := jira.New(cfg.Jira)
	if err != nil {
		log.Warn("jira client disabled", map[string]interface{}{"error": err.Error()})
	} else {
		jiraProbe = jiraClient.Ping
		if a.redis != nil {
			cached := jira.NewCachedClient(jiraClient, a.redis, a.redis.TTL(), log)
			gateway, readGateway = cached, cached
		} else {
			gateway, readGateway = jiraClient, jiraClient
		}
		log.Info("Jira gateway configured", map[string]interface{}{
			"baseUrl": jiraClient.BaseURL(),
			"cached":  a.redis != nil,
		})
	}

	// --- Generation ---
	ollamaClient := ollama.New(cfg.Generation.BaseURL, config.GetDuration(cfg.Generation.Timeout))

	var backend generation.Backend
	if cfg.Generation.Backend == generation.BackendOllama {
		ob, err := generation.NewOllamaBackend(ctx, ollamaClient, generation.OllamaOptions{
			Model:       cfg.Generation.Model,
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
		})
		if err != nil {
			log.Warn("language model unavailable, using templates", map[string]interface{}{
				"model": cfg.Generation.Model,
				"error": err.Error(),
			})
		} else {
			backend = ob
		}
	}
	a.Engine = generation.NewEngine(backend, generation.EngineConfig{
		MaxResponseLength: cfg.Generation.MaxResponseLength,
		HistoryTurns:      cfg.Generation.HistoryTurns,
		Timeout:           config.GetDuration(cfg.Generation.Timeout),
	}, log)
	log.Info("Generation engine ready", map[string]interface{}{"mode": a.Engine.Mode()})

	// --- Knowledge index ---
	var (
		search         router.Searcher
		knowledgeProbe api.Probe
	)
	index, err := openIndex(ctx, cfg, log, opts)
	if err != nil {
		log.Warn("documentation search disabled", map[string]interface{}{"error": err.Error()})
	} else if index != nil {
		searcher := knowledge.NewSearcher(
			knowledge.NewOllamaEmbedder(ollamaClient, cfg.Knowledge.EmbeddingModel),
			index,
			cfg.Knowledge.TopK,
			config.GetDuration(cfg.Knowledge.Timeout),
			log,
		)
		search = searcher
		knowledgeProbe = searcher.Ready
		log.Info("Documentation search ready", map[string]interface{}{"index": index.Name()})
	}

	// --- Router ---
	a.Sessions = conversation.NewStore(cfg.Router.HistoryWindow)
	a.Router = router.New(router.Dependencies{
		Classifier: intent.NewClassifier(cfg.Router.IntentThreshold),
		Extractor:  extractor.New(),
		Gateway:    gateway,
		Search:     search,
		Generator:  a.Engine,
		Sessions:   a.Sessions,
	}, router.Config{
		RetryDelay:         config.GetDuration(cfg.Router.RetryDelay),
		Tier1Budget:        config.GetDuration(cfg.Router.Tier1Budget),
		TopK:               cfg.Knowledge.TopK,
		FallbackConfidence: cfg.Router.FallbackConfidence,
	}, log)

	// --- Zeebe worker (optional) ---
	if cfg.Camunda.Enabled() && config.IsWorkerEnabled(cfg, aq.TaskType) {
		zeebe, err := camunda.Connect(ctx, camunda.ConfigFrom(cfg.Camunda))
		if err != nil {
			log.Error("zeebe unavailable, worker not started", map[string]interface{}{"error": err.Error()})
		} else {
			workerCfg := aq.LoadConfig(config.GetWorkerConfig(cfg, aq.TaskType))
			handler := aq.NewHandler(workerCfg, a.Router, &answerQuestionLoggerAdapter{log})
			a.zeebe = zeebe
			a.worker = camunda.StartWorker(zeebe.GetClient(), aq.TaskType, workerCfg.MaxJobsActive, handler, log)
		}
	}

	var workflowProbe api.Probe
	if a.zeebe != nil {
		workflowProbe = a.zeebe.HealthCheck
	}

	// --- HTTP surface ---
	a.Server = api.NewServer(api.Dependencies{
		Router:         a.Router,
		Sessions:       a.Sessions,
		Gateway:        readGateway,
		Models:         ollamaClient,
		JiraProbe:      jiraProbe,
		KnowledgeProbe: knowledgeProbe,
		WorkflowProbe:  workflowProbe,
		GenerationMode: a.Engine.Mode,
		Observability:  a.obs,
		CORSOrigins:    cfg.Server.CORSOrigins,
	}, log)

	return a
}

// Handler returns the HTTP handler for the chat service.
func (a *App) Handler() http.Handler {
	return a.Server.Handler()
}

// Close stops the worker and releases connections. Safe to call once.
func (a *App) Close() {
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.zeebe != nil {
		if err := a.zeebe.Close(); err != nil {
			a.log.Warn("zeebe client close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.obs.Shutdown()
}

// openIndex builds the configured documentation index. A nil index with a nil
// error means search is switched off.
func openIndex(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (knowledge.Index, error) {
	switch cfg.Knowledge.Backend {
	case "memory":
		var corpus *database.CorpusDB
		err := retryWithBackoff(func() error {
			var err error
			corpus, err = database.NewCorpusDB(cfg.Database.Corpus)
			if err != nil {
				return err
			}
			return corpus.Ping(ctx)
		}, opts.ConnectRetries, opts.RetryDelay, log, "Corpus store connection")
		if err != nil {
			return nil, err
		}
		// The corpus is read once at startup.
		defer corpus.Close()

		index, err := knowledge.LoadMemoryIndex(ctx, corpus)
		if err != nil {
			return nil, err
		}
		if index.Skipped() > 0 {
			log.Warn("corpus rows skipped", map[string]interface{}{
				"skipped": index.Skipped(),
				"loaded":  index.Len(),
			})
		}
		return index, nil

	case "elasticsearch":
		var es *database.ElasticsearchClient
		err := retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, opts.ConnectRetries, opts.RetryDelay, log, "Elasticsearch connection")
		if err != nil {
			return nil, err
		}
		return knowledge.NewElasticsearchIndex(es.Client, cfg.Knowledge.Index), nil

	default:
		return nil, nil
	}
}

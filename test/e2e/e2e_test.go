// test/e2e/e2e_test.go
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jira-support-bot/internal/app"
	"jira-support-bot/internal/common/config"
	"jira-support-bot/internal/common/database"
	"jira-support-bot/internal/common/logger"
)

// fakeJira answers the handful of endpoints the chat flows touch and counts
// searches so cache behaviour is observable.
type fakeJira struct {
	*httptest.Server
	searches atomic.Int32
	creates  atomic.Int32
}

func newFakeJira(t *testing.T) *fakeJira {
	t.Helper()
	f := &fakeJira{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		if !ok || user != "bot@example.com" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/rest/api/3/search":
			f.searches.Add(1)
			_, _ = w.Write([]byte(`{"total":1,"issues":[{"id":"1","key":"TT-1","fields":{"summary":"Login","status":{"name":"To Do"}}}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/rest/api/3/issue":
			f.creates.Add(1)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"10009","key":"TT-9","self":"https://jira/rest/api/3/issue/10009"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/rest/api/3/myself":
			_, _ = w.Write([]byte(`{"accountId":"bot"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/rest/agile/1.0/board":
			_, _ = w.Write([]byte(`{"values":[{"id":1,"name":"TT board","type":"scrum","location":{"projectKey":"TT"}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errorMessages":["not found"]}`))
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func newFakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"llama2:latest"},{"name":"all-minilm:latest"}]}`))
		case "/api/embeddings":
			_, _ = w.Write([]byte(`{"embedding":[1,0]}`))
		case "/api/generate":
			_, _ = w.Write([]byte(`{"model":"llama2","response":"Agile is an iterative way of delivering work in small increments.","done":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

type stack struct {
	jiraURL   string
	ollamaURL string
	backend   string
	knowledge string
	corpusDSN string
	redisAddr string
}

func loadConfig(t *testing.T, s stack) *config.Config {
	t.Helper()
	yaml := fmt.Sprintf(`
app:
  name: jira-support-bot-e2e
jira:
  base_url: %q
  email: bot@example.com
  api_token: secret
  timeout: 2000
generation:
  backend: %s
  base_url: %q
  model: llama2
  timeout: 2000
knowledge:
  backend: %s
  embedding_model: all-minilm
  top_k: 3
  timeout: 2000
router:
  retry_delay: 10
  tier1_budget: 2000
database:
  corpus:
    driver: sqlite
    dsn: %q
    table: passages
  redis:
    address: %q
    cache_ttl: 60
logging:
  level: error
`, s.jiraURL, s.backend, s.ollamaURL, s.knowledge, s.corpusDSN, s.redisAddr)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	chat := app.New(context.Background(), cfg, logger.NewTestLogger(t), app.Options{ConnectRetries: 1})
	t.Cleanup(chat.Close)
	return chat.Handler()
}

func postChat(t *testing.T, h http.Handler, message, sessionID string) map[string]interface{} {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"message": message, "session_id": sessionID})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, sessionID, rec.Header().Get("X-Session-ID"))
	return decode(t, rec)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func sources(resp map[string]interface{}) []string {
	var out []string
	for _, s := range resp["sources"].([]interface{}) {
		out = append(out, s.(string))
	}
	return out
}

func TestTemplateModeWithCachedJira(t *testing.T) {
	jiraServer := newFakeJira(t)
	mr := miniredis.RunT(t)

	h := startApp(t, loadConfig(t, stack{
		jiraURL:   jiraServer.URL,
		ollamaURL: "http://127.0.0.1:1",
		backend:   "template",
		knowledge: "none",
		corpusDSN: filepath.Join(t.TempDir(), "unused.db"),
		redisAddr: mr.Addr(),
	}))

	t.Run("list epics is served from cache the second time", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			resp := postChat(t, h, "show epics in project TT", "e2e-list")
			assert.Contains(t, resp["response"], "Found 1 epics.")
			assert.Contains(t, resp["response"], "- TT-1: Login [To Do]")
			assert.Contains(t, sources(resp), "api")
			assert.Contains(t, sources(resp), "intent_container_query")
		}
		assert.Equal(t, int32(1), jiraServer.searches.Load())
		assert.True(t, mr.Exists("jira:list_containers:TT"))
	})

	t.Run("create epic", func(t *testing.T) {
		resp := postChat(t, h, "Create epic in TT with title Test Epic", "e2e-create")
		assert.Equal(t, "Successfully created epic in project TT (Epic: TT-9).", resp["response"])
		meta := resp["metadata"].(map[string]interface{})
		assert.Equal(t, "TT-9", meta["resource_id"])
		assert.Equal(t, int32(1), jiraServer.creates.Load())
	})

	t.Run("missing slot asks for it without calling jira", func(t *testing.T) {
		before := jiraServer.creates.Load()
		resp := postChat(t, h, "Create epic with title Test Epic", "e2e-clarify")
		assert.Equal(t, []string{"fallback"}, sources(resp))
		assert.Contains(t, resp["response"], "please provide the")
		assert.Equal(t, before, jiraServer.creates.Load())
	})

	t.Run("general question without docs falls back", func(t *testing.T) {
		resp := postChat(t, h, "What is Agile methodology?", "e2e-general")
		assert.Equal(t, []string{"fallback"}, sources(resp))
		assert.NotEmpty(t, resp["response"])
	})

	t.Run("health reports template mode", func(t *testing.T) {
		rec := get(t, h, "/health")
		require.Equal(t, http.StatusOK, rec.Code)
		components := decode(t, rec)["components"].(map[string]interface{})
		assert.Equal(t, "healthy", components["jira"])
		assert.Equal(t, "not_configured", components["knowledge_base"])
		assert.Equal(t, "fallback_mode", components["llm"])
	})

	t.Run("boards mirror", func(t *testing.T) {
		rec := get(t, h, "/api/boards/list")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "TT board")
	})

	t.Run("conversation summary", func(t *testing.T) {
		rec := get(t, h, "/conversation/summary?session_id=e2e-list")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, float64(4), body["message_count"])
		assert.Contains(t, body["recent_topics"], "container_query")
	})
}

func TestModelModeWithDocumentation(t *testing.T) {
	jiraServer := newFakeJira(t)
	ollamaServer := newFakeOllama(t)

	dsn := filepath.Join(t.TempDir(), "corpus.db")
	corpus, err := database.NewCorpusDB(config.CorpusConfig{Driver: "sqlite", DSN: dsn, Table: "passages"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, corpus.EnsureSchema(ctx))
	require.NoError(t, corpus.UpsertPassages(ctx, []database.PassageRow{
		{ID: "agile", Content: "Agile is an iterative approach to project management.", Title: "Agile", SourceURL: "https://www.atlassian.com/agile", Embedding: "[1,0]"},
		{ID: "boards", Content: "Boards visualise work.", Title: "Boards", SourceURL: "https://support.atlassian.com/boards", Embedding: "[0,1]"},
	}))
	require.NoError(t, corpus.Close())

	h := startApp(t, loadConfig(t, stack{
		jiraURL:   jiraServer.URL,
		ollamaURL: ollamaServer.URL,
		backend:   "ollama",
		knowledge: "memory",
		corpusDSN: dsn,
	}))

	t.Run("documentation answer through the model", func(t *testing.T) {
		resp := postChat(t, h, "What is Agile methodology?", "e2e-docs")
		assert.Contains(t, resp["response"], "iterative")
		assert.Contains(t, sources(resp), "docs")
		assert.Contains(t, sources(resp), "intent_general")
		assert.NotContains(t, sources(resp), "fallback")

		meta := resp["metadata"].(map[string]interface{})
		assert.Equal(t, "https://www.atlassian.com/agile", meta["top_source_url"])
		assert.Zero(t, jiraServer.searches.Load())
	})

	t.Run("health is fully green", func(t *testing.T) {
		body := decode(t, get(t, h, "/health"))
		assert.Equal(t, "healthy", body["status"])
		components := body["components"].(map[string]interface{})
		assert.Equal(t, "healthy", components["llm"])
		assert.Equal(t, "healthy", components["knowledge_base"])
	})

	t.Run("installed models", func(t *testing.T) {
		rec := get(t, h, "/ollama/models")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(2), decode(t, rec)["count"])
	})
}

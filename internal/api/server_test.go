package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jira-support-bot/internal/assistant/conversation"
	"jira-support-bot/internal/assistant/generation"
	"jira-support-bot/internal/assistant/router"
	"jira-support-bot/internal/common/jira"
	"jira-support-bot/internal/common/logger"
	"jira-support-bot/internal/common/ollama"
	"jira-support-bot/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockChatter struct {
	mock.Mock
}

func (m *MockChatter) Handle(_ context.Context, message, sessionID string) *models.ChatResponse {
	args := m.Called(message, sessionID)
	return args.Get(0).(*models.ChatResponse)
}

type fakeGateway struct {
	result *jira.Result
	err    error
	board  int
	called string
}

func (f *fakeGateway) ListEpics(_ context.Context, projectKey string) (*jira.Result, error) {
	f.called = "epics:" + projectKey
	return f.result, f.err
}

func (f *fakeGateway) ListSprints(_ context.Context, boardID int) (*jira.Result, error) {
	f.called = "sprints"
	f.board = boardID
	return f.result, f.err
}

func (f *fakeGateway) ListBoards(context.Context) (*jira.Result, error) {
	f.called = "boards"
	return f.result, f.err
}

type fakeModels struct {
	models []ollama.Model
	err    error
}

func (f fakeModels) ListModels(context.Context) ([]ollama.Model, error) {
	return f.models, f.err
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func chatResponse() *models.ChatResponse {
	return &models.ChatResponse{
		Response:   "hi",
		Confidence: 0.3,
		Sources:    []string{models.SourceFallback},
		Metadata:   map[string]interface{}{"intent": "general"},
		Timestamp:  time.Now(),
	}
}

func TestChat_SessionResolution(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		headers []string
		want    string
	}{
		{name: "body session", body: `{"message":"hi","session_id":"abc"}`, headers: []string{SessionHeader, "hdr"}, want: "abc"},
		{name: "header session", body: `{"message":"hi"}`, headers: []string{SessionHeader, "hdr"}, want: "hdr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chatter := &MockChatter{}
			chatter.On("Handle", "hi", tt.want).Return(chatResponse()).Once()
			srv := NewServer(Dependencies{Router: chatter, Sessions: conversation.NewStore(10)}, logger.NewTestLogger(t))

			rec := do(t, srv.Handler(), http.MethodPost, "/chat", tt.body, tt.headers...)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get(SessionHeader))
			chatter.AssertExpectations(t)
		})
	}
}

func TestChat_GeneratesSessionID(t *testing.T) {
	chatter := &MockChatter{}
	chatter.On("Handle", "hi", mock.AnythingOfType("string")).Return(chatResponse()).Once()
	srv := NewServer(Dependencies{Router: chatter, Sessions: conversation.NewStore(10)}, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/chat", `{"message":"hi"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := chatter.Calls[0].Arguments.String(1)
	assert.Len(t, sessionID, 36)
	assert.Equal(t, sessionID, rec.Header().Get(SessionHeader))
}

func TestChat_BadRequests(t *testing.T) {
	bodies := map[string]string{
		"empty body":      ``,
		"not json":        `{message`,
		"missing message": `{"session_id":"x"}`,
		"wrong type":      `{"message": 5}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			chatter := &MockChatter{}
			srv := NewServer(Dependencies{Router: chatter, Sessions: conversation.NewStore(10)}, nil)

			rec := do(t, srv.Handler(), http.MethodPost, "/chat", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, chatter.Calls)
		})
	}
}

func TestChat_TemplateOnlyStillAnswers(t *testing.T) {
	sessions := conversation.NewStore(10)
	r := router.New(router.Dependencies{
		Generator: generation.NewEngine(nil, generation.EngineConfig{}, nil),
		Sessions:  sessions,
	}, router.Config{}, logger.NewTestLogger(t))
	srv := NewServer(Dependencies{Router: r, Sessions: sessions}, logger.NewTestLogger(t))

	rec := do(t, srv.Handler(), http.MethodPost, "/chat", `{"message":"What is Agile methodology?","session_id":"s1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Response)
	assert.Contains(t, resp.Sources, models.SourceFallback)

	summary := do(t, srv.Handler(), http.MethodGet, "/conversation/summary?session_id=s1", "")
	require.Equal(t, http.StatusOK, summary.Code)
	body := decode(t, summary)
	assert.Equal(t, float64(2), body["message_count"])
	assert.Equal(t, float64(1), body["user_messages"])

	reset := do(t, srv.Handler(), http.MethodPost, "/conversation/reset", `{"session_id":"s1"}`)
	require.Equal(t, http.StatusOK, reset.Code)

	after := decode(t, do(t, srv.Handler(), http.MethodGet, "/conversation/summary?session_id=s1", ""))
	assert.Equal(t, float64(0), after["message_count"])
}

func TestConversationEndpoints_Validation(t *testing.T) {
	srv := NewServer(Dependencies{Router: &MockChatter{}, Sessions: conversation.NewStore(10)}, nil)

	assert.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), http.MethodPost, "/conversation/reset", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), http.MethodGet, "/conversation/summary", "").Code)
}

func TestHealth(t *testing.T) {
	srv := NewServer(Dependencies{
		Router:         &MockChatter{},
		Sessions:       conversation.NewStore(10),
		JiraProbe:      func(context.Context) error { return nil },
		KnowledgeProbe: func(context.Context) error { return errors.New("index missing") },
		GenerationMode: func() string { return generation.BackendTemplate },
	}, logger.NewTestLogger(t))

	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	components := body["components"].(map[string]interface{})
	assert.Equal(t, "healthy", components["jira"])
	assert.Equal(t, "unhealthy", components["knowledge_base"])
	assert.Equal(t, "fallback_mode", components["llm"])
	assert.Equal(t, "healthy", components["conversation_store"])
}

func TestReady(t *testing.T) {
	ready := NewServer(Dependencies{Router: &MockChatter{}, Sessions: conversation.NewStore(10)}, nil)
	assert.Equal(t, http.StatusOK, do(t, ready.Handler(), http.MethodGet, "/ready", "").Code)

	notReady := NewServer(Dependencies{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, notReady.Handler(), http.MethodGet, "/ready", "").Code)
}

func TestReadMirrors(t *testing.T) {
	t.Run("epics pass the raw envelope through", func(t *testing.T) {
		gw := &fakeGateway{result: &jira.Result{Operation: jira.OpListContainers, Raw: []byte(`{"total":0,"issues":[]}`)}}
		srv := NewServer(Dependencies{Router: &MockChatter{}, Sessions: conversation.NewStore(10), Gateway: gw}, nil)

		rec := do(t, srv.Handler(), http.MethodGet, "/api/epics/list?project=tt", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"total":0,"issues":[]}`, rec.Body.String())
		assert.Equal(t, "epics:TT", gw.called)
	})

	t.Run("epics reject project values that are not keys", func(t *testing.T) {
		gw := &fakeGateway{result: &jira.Result{Operation: jira.OpListContainers, Raw: []byte(`{"issues":[]}`)}}
		srv := NewServer(Dependencies{Router: &MockChatter{}, Sessions: conversation.NewStore(10), Gateway: gw}, nil)

		for _, project := range []string{"TT+OR+issuetype+!%3D+Epic", "T", "%22TT%22", "TOOLONGPROJECTKEY"} {
			rec := do(t, srv.Handler(), http.MethodGet, "/api/epics/list?project="+project, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, project)
		}
		assert.Empty(t, gw.called)

		require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/api/epics/list", "").Code)
		assert.Equal(t, "epics:", gw.called)
	})

	t.Run("sprints parse the board", func(t *testing.T) {
		gw := &fakeGateway{result: &jira.Result{Operation: jira.OpListWindows, Raw: []byte(`{"values":[]}`)}}
		srv := NewServer(Dependencies{Router: &MockChatter{}, Sessions: conversation.NewStore(10), Gateway: gw}, nil)

		require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/api/sprints/list?board=7", "").Code)
		assert.Equal(t, 7, gw.board)
		assert.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), http.MethodGet, "/api/sprints/list?board=x", "").Code)
	})

	t.Run("errors map to statuses", func(t *testing.T) {
		tests := []struct {
			kind   jira.Kind
			status int
		}{
			{jira.KindNotFound, http.StatusNotFound},
			{jira.KindRateLimited, http.StatusTooManyRequests},
			{jira.KindTimeout, http.StatusGatewayTimeout},
			{jira.KindUnauthorized, http.StatusBadGateway},
			{jira.KindUnreachable, http.StatusServiceUnavailable},
		}
		for _, tt := range tests {
			gw := &fakeGateway{err: &jira.APIError{Kind: tt.kind, Operation: jira.OpListBoards}}
			srv := NewServer(Dependencies{Router: &MockChatter{}, Sessions: conversation.NewStore(10), Gateway: gw}, nil)

			rec := do(t, srv.Handler(), http.MethodGet, "/api/boards/list", "")
			assert.Equal(t, tt.status, rec.Code, tt.kind)
			assert.Equal(t, string(tt.kind), decode(t, rec)["kind"])
		}
	})

	t.Run("no gateway", func(t *testing.T) {
		srv := NewServer(Dependencies{Router: &MockChatter{}, Sessions: conversation.NewStore(10)}, nil)
		rec := do(t, srv.Handler(), http.MethodGet, "/api/boards/list", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestOllamaModels(t *testing.T) {
	srv := NewServer(Dependencies{
		Router:   &MockChatter{},
		Sessions: conversation.NewStore(10),
		Models:   fakeModels{models: []ollama.Model{{Name: "llama2:latest"}}},
	}, nil)
	rec := do(t, srv.Handler(), http.MethodGet, "/ollama/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	failing := NewServer(Dependencies{
		Router:   &MockChatter{},
		Sessions: conversation.NewStore(10),
		Models:   fakeModels{err: errors.New("connection refused")},
	}, nil)
	assert.Equal(t, http.StatusBadGateway, do(t, failing.Handler(), http.MethodGet, "/ollama/models", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewServer(Dependencies{Router: &MockChatter{}, Sessions: conversation.NewStore(10)}, nil)
	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestCORSPreflight(t *testing.T) {
	srv := NewServer(Dependencies{Router: &MockChatter{}, Sessions: conversation.NewStore(10), CORSOrigins: []string{"https://support.example.com"}}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "https://support.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://support.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth_WorkflowEngine(t *testing.T) {
	srv := NewServer(Dependencies{
		Router:        &MockChatter{},
		Sessions:      conversation.NewStore(10),
		WorkflowProbe: func(context.Context) error { return errors.New("no brokers") },
	}, nil)

	body := decode(t, do(t, srv.Handler(), http.MethodGet, "/health", ""))
	components := body["components"].(map[string]interface{})
	assert.Equal(t, "unhealthy", components["workflow_engine"])
	assert.Equal(t, "not_configured", components["jira"])
}

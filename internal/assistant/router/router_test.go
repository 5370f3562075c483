package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jira-support-bot/internal/assistant/conversation"
	"jira-support-bot/internal/assistant/generation"
	"jira-support-bot/internal/assistant/intent"
	"jira-support-bot/internal/assistant/knowledge"
	"jira-support-bot/internal/common/config"
	"jira-support-bot/internal/common/jira"
	"jira-support-bot/internal/common/logger"
	"jira-support-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGateway struct {
	mock.Mock
}

func returned(args mock.Arguments) (*jira.Result, error) {
	res, _ := args.Get(0).(*jira.Result)
	return res, args.Error(1)
}

func (m *MockGateway) ListEpics(_ context.Context, projectKey string) (*jira.Result, error) {
	return returned(m.Called(projectKey))
}

func (m *MockGateway) GetEpic(_ context.Context, key string) (*jira.Result, error) {
	return returned(m.Called(key))
}

func (m *MockGateway) CreateEpic(_ context.Context, projectKey, summary, description string) (*jira.Result, error) {
	return returned(m.Called(projectKey, summary, description))
}

func (m *MockGateway) UpdateEpic(_ context.Context, key string, fields map[string]interface{}) (*jira.Result, error) {
	return returned(m.Called(key, fields))
}

func (m *MockGateway) ListSprints(_ context.Context, boardID int) (*jira.Result, error) {
	return returned(m.Called(boardID))
}

func (m *MockGateway) GetSprint(_ context.Context, sprintID int) (*jira.Result, error) {
	return returned(m.Called(sprintID))
}

func (m *MockGateway) CreateSprint(_ context.Context, name string, boardID int, startDate, endDate string) (*jira.Result, error) {
	return returned(m.Called(name, boardID, startDate, endDate))
}

func (m *MockGateway) UpdateSprint(_ context.Context, sprintID int, fields map[string]interface{}) (*jira.Result, error) {
	return returned(m.Called(sprintID, fields))
}

func (m *MockGateway) ListSprintIssues(_ context.Context, sprintID int) (*jira.Result, error) {
	return returned(m.Called(sprintID))
}

type fakeSearch struct {
	mu       sync.Mutex
	passages []knowledge.Passage
	panics   bool
	queries  []string
}

func (f *fakeSearch) Search(_ context.Context, query string, topK int) []knowledge.Passage {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.panics {
		panic("index corrupted")
	}
	return f.passages
}

type fakeGenerator struct {
	text   string
	panics bool
}

func (f *fakeGenerator) Generate(_ context.Context, req generation.Request) generation.Output {
	if f.panics {
		panic("backend exploded")
	}
	return generation.Output{Text: f.text, Backend: generation.BackendOllama}
}

type fixture struct {
	router   *Router
	gateway  *MockGateway
	search   *fakeSearch
	sessions *conversation.Store
}

func newFixture(t *testing.T, opts ...func(*Dependencies, *Config)) *fixture {
	t.Helper()
	f := &fixture{
		gateway:  &MockGateway{},
		search:   &fakeSearch{},
		sessions: conversation.NewStore(10),
	}
	deps := Dependencies{
		Classifier: intent.NewClassifier(intent.DefaultThreshold),
		Gateway:    f.gateway,
		Search:     f.search,
		Generator:  generation.NewEngine(nil, generation.EngineConfig{}, nil),
		Sessions:   f.sessions,
	}
	cfg := Config{RetryDelay: time.Millisecond, Tier1Budget: time.Second}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}
	f.router = New(deps, cfg, logger.NewTestLogger(t))
	return f
}

func apiErr(kind jira.Kind) error {
	return &jira.APIError{Kind: kind, Operation: jira.OpListContainers}
}

var epicList = &jira.Result{
	Operation: jira.OpListContainers,
	Raw:       []byte(`{"total":1,"issues":[{"id":"1","key":"TT-1","fields":{"summary":"Login","status":{"name":"To Do"}}}]}`),
}

func TestTransitions(t *testing.T) {
	assert.Equal(t, StateExtracting, nextAfterClassify(intent.ContainerMutate))
	assert.Equal(t, StateExtracting, nextAfterClassify(intent.WindowMutate))
	assert.Equal(t, StateTier1Attempt, nextAfterClassify(intent.ContainerQuery))
	assert.Equal(t, StateTier1Attempt, nextAfterClassify(intent.WindowQuery))
	assert.Equal(t, StateTier2Attempt, nextAfterClassify(intent.General))

	assert.Equal(t, StateTier1Attempt, nextAfterExtract(nil))
	assert.Equal(t, StateSynthesizing, nextAfterExtract(errors.New("missing")))

	assert.Equal(t, StateSynthesizing, nextAfterTier1(epicList, nil))
	assert.Equal(t, StateTier2Attempt, nextAfterTier1(nil, apiErr(jira.KindNotFound)))
	assert.Equal(t, StateTier2Attempt, nextAfterTier1(nil, nil))

	assert.Equal(t, StateSynthesizing, nextAfterTier2(nil))
}

func TestHandle_CreateEpic(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("CreateEpic", "TT", "Test Epic", "").
		Return(&jira.Result{Operation: jira.OpCreateContainer, ResourceID: "TT-1", Raw: []byte(`{"id":"10001","key":"TT-1"}`)}, nil).Once()

	resp := f.router.Handle(context.Background(), "Create epic in TT with title Test Epic", "s1")

	f.gateway.AssertExpectations(t)
	assert.True(t, resp.HasSource(models.SourceAPI))
	assert.True(t, resp.HasSource("intent_container_mutate"))
	assert.Contains(t, resp.Response, "TT-1")
	assert.Equal(t, "Successfully created epic in project TT (Epic: TT-1).", resp.Response)
	assert.Equal(t, "TT-1", resp.Metadata["resource_id"])
	assert.Equal(t, "create_container", resp.Metadata["operation"])
	assert.Equal(t, 0, resp.Metadata["retries"])
	assert.InDelta(t, 0.9, resp.Confidence, 1e-9)
	assert.Equal(t, []string{
		"received", "classified", "extracting", "tier1_attempt", "synthesizing", "responded",
	}, resp.Metadata["route"])
	assert.Empty(t, f.search.queries)
}

func TestHandle_CreateSprint(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("CreateSprint", "Sprint 1", 123, "", "").
		Return(&jira.Result{Operation: jira.OpCreateWindow, ResourceID: "42", Raw: []byte(`{"id":42,"name":"Sprint 1","state":"future"}`)}, nil).Once()

	resp := f.router.Handle(context.Background(), "Create sprint in board 123 named Sprint 1", "s1")

	f.gateway.AssertExpectations(t)
	assert.Equal(t, "Successfully created sprint 'Sprint 1' in board 123 (Sprint ID: 42).", resp.Response)
	assert.Equal(t, []string{"api", "fallback", "intent_window_mutate"}, resp.Sources)
}

func TestHandle_MissingSlotAsksForField(t *testing.T) {
	f := newFixture(t)

	resp := f.router.Handle(context.Background(), "Create epic with title Test Epic", "s1")

	assert.Empty(t, f.gateway.Calls)
	assert.Empty(t, f.search.queries)
	assert.Equal(t, []string{models.SourceFallback}, resp.Sources)
	assert.Contains(t, resp.Response, "project key")
	assert.Equal(t, "container_key", resp.Metadata["missing_slot"])
	assert.Equal(t, "create_container", resp.Metadata["operation"])
	assert.Equal(t, []string{"received", "classified", "extracting", "synthesizing", "responded"}, resp.Metadata["route"])
}

func TestHandle_RetryPolicy(t *testing.T) {
	tests := []struct {
		kind    jira.Kind
		calls   int
		retries int
	}{
		{jira.KindUnauthorized, 1, 0},
		{jira.KindNotFound, 1, 0},
		{jira.KindServerError, 1, 0},
		{jira.KindUnreachable, 1, 0},
		{jira.KindRejected, 1, 0},
		{jira.KindRateLimited, 2, 1},
		{jira.KindTimeout, 2, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			f := newFixture(t)
			f.gateway.On("ListEpics", "TT").Return(nil, apiErr(tt.kind))

			resp := f.router.Handle(context.Background(), "show epics in project TT", "s1")

			f.gateway.AssertNumberOfCalls(t, "ListEpics", tt.calls)
			assert.Equal(t, tt.retries, resp.Metadata["retries"])
			assert.Equal(t, string(tt.kind), resp.Metadata["tier1_error"])
			assert.Equal(t, []string{"show epics in project TT"}, f.search.queries)
			assert.Equal(t, []string{models.SourceFallback}, resp.Sources)
		})
	}
}

func TestHandle_RetrySucceeds(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("ListEpics", "TT").Return(nil, apiErr(jira.KindRateLimited)).Once()
	f.gateway.On("ListEpics", "TT").Return(epicList, nil).Once()

	resp := f.router.Handle(context.Background(), "show epics in project TT", "s1")

	f.gateway.AssertNumberOfCalls(t, "ListEpics", 2)
	assert.Equal(t, 1, resp.Metadata["retries"])
	assert.True(t, resp.HasSource(models.SourceAPI))
	assert.Contains(t, resp.Response, "TT-1: Login")
	assert.Empty(t, f.search.queries)
}

func TestHandle_RetrySkippedWhenBudgetTooSmall(t *testing.T) {
	f := newFixture(t, func(_ *Dependencies, cfg *Config) {
		cfg.RetryDelay = time.Second
		cfg.Tier1Budget = 50 * time.Millisecond
	})
	f.gateway.On("ListEpics", "TT").Return(nil, apiErr(jira.KindTimeout))

	resp := f.router.Handle(context.Background(), "show epics in project TT", "s1")

	f.gateway.AssertNumberOfCalls(t, "ListEpics", 1)
	assert.Equal(t, 0, resp.Metadata["retries"])
}

func TestHandle_HungTrackerIsRetriedOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	// The client timeout is longer than the whole tier budget, as in the
	// shipped configuration.
	client, err := jira.New(config.JiraConfig{BaseURL: server.URL, Email: "bot@example.com", APIToken: "token", Timeout: 5000})
	require.NoError(t, err)

	f := newFixture(t, func(d *Dependencies, cfg *Config) {
		d.Gateway = client
		cfg.RetryDelay = 50 * time.Millisecond
		cfg.Tier1Budget = 800 * time.Millisecond
	})

	start := time.Now()
	resp := f.router.Handle(context.Background(), "show epics in project TT", "s1")

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, resp.Metadata["retries"])
	assert.Equal(t, string(jira.KindTimeout), resp.Metadata["tier1_error"])
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHandle_GeneralQuestionUsesDocs(t *testing.T) {
	f := newFixture(t)
	f.search.passages = []knowledge.Passage{
		{Text: "Agile is an iterative approach to delivery.", Score: 0.82, SourceURL: "https://support.atlassian.com/agile"},
		{Text: "Scrum is a framework.", Score: 0.6, SourceURL: "https://support.atlassian.com/scrum"},
	}

	resp := f.router.Handle(context.Background(), "What is Agile methodology?", "s1")

	assert.Empty(t, f.gateway.Calls)
	assert.Equal(t, []string{"What is Agile methodology?"}, f.search.queries)
	assert.Equal(t, "general", resp.Metadata["intent"])
	assert.Equal(t, "https://support.atlassian.com/agile", resp.Metadata["top_source_url"])
	assert.Equal(t, []string{"https://support.atlassian.com/agile", "https://support.atlassian.com/scrum"}, resp.Metadata["doc_sources"])
	assert.True(t, resp.HasSource(models.SourceDocs))
	assert.True(t, resp.HasSource("intent_general"))
	assert.Contains(t, resp.Response, "Agile is an iterative approach")
	assert.InDelta(t, 0.82, resp.Confidence, 1e-9)
	assert.NotContains(t, resp.Metadata, "retries")
}

func TestHandle_SourcesNeverEmpty(t *testing.T) {
	inputs := []string{"", "   ", "hello", "show sprint 5", "rename sprint", "list boards please", "Create epic in TT with title X"}

	setups := map[string]func(*Dependencies, *Config){
		"no collaborators": func(d *Dependencies, _ *Config) {
			d.Gateway = nil
			d.Search = nil
			d.Generator = nil
		},
		"panicking gateway": func(d *Dependencies, _ *Config) {
			d.Gateway = panickingGateway{}
		},
	}

	for name, setup := range setups {
		for _, input := range inputs {
			t.Run(name+"/"+input, func(t *testing.T) {
				f := newFixture(t, setup)
				resp := f.router.Handle(context.Background(), input, "")

				require.NotNil(t, resp)
				assert.NotEmpty(t, resp.Sources)
				assert.NotEmpty(t, strings.TrimSpace(resp.Response))
				assert.GreaterOrEqual(t, resp.Confidence, 0.0)
				assert.LessOrEqual(t, resp.Confidence, 1.0)
				assert.NotEmpty(t, resp.Metadata["session_id"])
			})
		}
	}
}

// panickingGateway fails every call by panicking.
type panickingGateway struct{}

func (panickingGateway) ListEpics(context.Context, string) (*jira.Result, error) { panic("boom") }
func (panickingGateway) GetEpic(context.Context, string) (*jira.Result, error)   { panic("boom") }
func (panickingGateway) CreateEpic(context.Context, string, string, string) (*jira.Result, error) {
	panic("boom")
}
func (panickingGateway) UpdateEpic(context.Context, string, map[string]interface{}) (*jira.Result, error) {
	panic("boom")
}
func (panickingGateway) ListSprints(context.Context, int) (*jira.Result, error) { panic("boom") }
func (panickingGateway) GetSprint(context.Context, int) (*jira.Result, error)   { panic("boom") }
func (panickingGateway) CreateSprint(context.Context, string, int, string, string) (*jira.Result, error) {
	panic("boom")
}
func (panickingGateway) UpdateSprint(context.Context, int, map[string]interface{}) (*jira.Result, error) {
	panic("boom")
}
func (panickingGateway) ListSprintIssues(context.Context, int) (*jira.Result, error) { panic("boom") }

func TestHandle_PanicsAreContained(t *testing.T) {
	f := newFixture(t, func(d *Dependencies, _ *Config) {
		d.Gateway = panickingGateway{}
		d.Search = &fakeSearch{panics: true}
		d.Generator = &fakeGenerator{panics: true}
	})

	resp := f.router.Handle(context.Background(), "show epics in project TT", "s1")

	assert.Equal(t, []string{models.SourceFallback}, resp.Sources)
	assert.Equal(t, "internal", resp.Metadata["tier1_error"])
	assert.Equal(t, generation.BackendTemplate, resp.Metadata["generation_backend"])
	assert.Contains(t, resp.Response, "couldn't retrieve epic information")
}

func TestHandle_GenerationUnavailable(t *testing.T) {
	f := newFixture(t, func(d *Dependencies, _ *Config) {
		d.Generator = nil
	})
	f.search.passages = []knowledge.Passage{{Text: "Boards show work.", Score: 0.4, SourceURL: "https://support.atlassian.com/boards"}}

	resp := f.router.Handle(context.Background(), "how do boards work", "s1")

	assert.NotEmpty(t, resp.Response)
	assert.True(t, resp.HasSource(models.SourceFallback))
	assert.True(t, resp.HasSource(models.SourceDocs))
	assert.Equal(t, generation.BackendTemplate, resp.Metadata["generation_backend"])
}

func TestHandle_ModelReplyKeepsResourceKey(t *testing.T) {
	f := newFixture(t, func(d *Dependencies, _ *Config) {
		d.Generator = &fakeGenerator{text: "Done! Your epic is ready."}
	})
	f.gateway.On("CreateEpic", "TT", "Audit", "").
		Return(&jira.Result{Operation: jira.OpCreateContainer, ResourceID: "TT-9", Raw: []byte(`{"id":"9","key":"TT-9"}`)}, nil)

	resp := f.router.Handle(context.Background(), "Create epic in TT with title Audit", "s1")

	assert.Equal(t, "Successfully created epic in project TT (Epic: TT-9).\n\nDone! Your epic is ready.", resp.Response)
	assert.Equal(t, []string{"api", "intent_container_mutate"}, resp.Sources)
	assert.Equal(t, generation.BackendOllama, resp.Metadata["generation_backend"])
}

func TestHandle_RecordsConversation(t *testing.T) {
	f := newFixture(t)

	first := f.router.Handle(context.Background(), "hello", "")
	sessionID, ok := first.Metadata["session_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, sessionID)

	f.router.Handle(context.Background(), "what is an epic", sessionID)

	turns := f.sessions.Turns(sessionID)
	require.Len(t, turns, 4)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Text)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)
	assert.Equal(t, first.Response, turns[1].Text)
	assert.Equal(t, "what is an epic", turns[2].Text)
}

func TestHandle_ConcurrentSessions(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "session-" + string(rune('a'+i))
			resp := f.router.Handle(context.Background(), "hello", id)
			assert.NotEmpty(t, resp.Sources)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		assert.Len(t, f.sessions.Turns("session-"+string(rune('a'+i))), 2)
	}
}

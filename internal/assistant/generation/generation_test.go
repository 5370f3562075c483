package generation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"jira-support-bot/internal/assistant/intent"
	"jira-support-bot/internal/assistant/knowledge"
	apperrors "jira-support-bot/internal/common/errors"
	"jira-support-bot/internal/common/jira"
	"jira-support-bot/internal/common/logger"
	"jira-support-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	reply  string
	err    error
	delay  time.Duration
	panics bool
	prompt string
}

func (f *fakeBackend) Name() string { return BackendOllama }

func (f *fakeBackend) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	if f.panics {
		panic("model crashed")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

func result(op, id, raw string) *jira.Result {
	return &jira.Result{Operation: op, ResourceID: id, Raw: []byte(raw)}
}

func TestSubstitute(t *testing.T) {
	out := substitute("Epic {{resource_id}} in {{ container_key }} {{unknown}} done.", map[string]string{
		"resource_id":   "TT-1",
		"container_key": "TT",
	})
	assert.Equal(t, "Epic TT-1 in TT done.", out)
}

func TestConfirmation(t *testing.T) {
	tests := []struct {
		name   string
		res    *jira.Result
		params map[string]string
		want   string
	}{
		{
			name:   "create epic",
			res:    result(jira.OpCreateContainer, "TT-1", `{"id":"10001","key":"TT-1"}`),
			params: map[string]string{"container_key": "TT", "item_title": "Test Epic"},
			want:   "Successfully created epic in project TT (Epic: TT-1).",
		},
		{
			name:   "create sprint",
			res:    result(jira.OpCreateWindow, "42", `{"id":42,"name":"Sprint 1","state":"future"}`),
			params: map[string]string{"window_container_id": "123", "item_name": "Sprint 1"},
			want:   "Successfully created sprint 'Sprint 1' in board 123 (Sprint ID: 42).",
		},
		{
			name:   "create epic without a returned key",
			res:    &jira.Result{Operation: jira.OpCreateContainer},
			params: map[string]string{"container_key": "TT", "item_title": "Test Epic"},
			want:   "Successfully created epic 'Test Epic' in project TT. Jira did not return the new epic key, so check the project backlog for it.",
		},
		{
			name:   "create sprint without a returned id",
			res:    &jira.Result{Operation: jira.OpCreateWindow},
			params: map[string]string{"window_container_id": "123", "item_name": "Sprint 1"},
			want:   "Successfully created sprint 'Sprint 1' in board 123. Jira did not return the new sprint ID.",
		},
		{
			name:   "update sprint",
			res:    result(jira.OpUpdateWindow, "42", ``),
			params: map[string]string{"item_key": "42", "item_name": "Sprint 2"},
			want:   "Successfully updated sprint 42. New name: Sprint 2.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Confirmation(tt.res, tt.params))
		})
	}
}

func TestClarification(t *testing.T) {
	assert.Equal(t,
		"To create an epic, please provide the project key. For example: 'Create epic in PROJ with title My Epic'.",
		Clarification(jira.OpCreateContainer, "project key"))
	assert.Equal(t,
		"To create a sprint, please provide the board ID. For example: 'Create sprint in board 123 named Sprint 1'.",
		Clarification(jira.OpCreateWindow, "board ID"))
	assert.Equal(t, "To do that, please provide the name.", Clarification("unknown_op", "name"))
}

func TestGeneralTemplate(t *testing.T) {
	tests := []struct {
		message string
		prefix  string
	}{
		{"tell me about epics", "I can help you with Epic-related questions."},
		{"sprint planning tips", "I can help you with Sprint-related questions."},
		{"add a thing", "I can help you create new items in Jira."},
		{"how does it work", "I can help you understand how to use Jira Software Cloud."},
		{"hello", "I'm here to help you with Jira Software Cloud."},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(GeneralTemplate(tt.message), tt.prefix))
		})
	}
}

func TestTemplate_Sources(t *testing.T) {
	list := Template(Request{
		Message: "list epics in TT",
		Intent:  intent.ContainerQuery,
		API: result(jira.OpListContainers, "", `{"total":2,"issues":[
			{"id":"1","key":"TT-1","fields":{"summary":"Login","status":{"name":"To Do"}}},
			{"id":"2","key":"TT-2","fields":{"summary":"Billing","status":{"name":"Done"}}}]}`),
	})
	assert.Equal(t, "Found 2 epics.\n- TT-1: Login [To Do]\n- TT-2: Billing [Done]", list)

	docs := Template(Request{
		Message:  "what is a sprint",
		Passages: []knowledge.Passage{{Text: " A sprint is a short period. ", SourceURL: "https://support.atlassian.com/sprints"}},
	})
	assert.Equal(t, "Here is what the Jira documentation says:\n\nA sprint is a short period.\n\nSource: https://support.atlassian.com/sprints", docs)

	down := Template(Request{Message: "show sprints", Intent: intent.WindowQuery})
	assert.Contains(t, down, "couldn't retrieve sprint information from Jira")

	general := Template(Request{Message: "", Intent: intent.General})
	assert.NotEmpty(t, general)
}

func TestTemplate_EchoesRequestValues(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		phrase string
	}{
		{
			name:   "failed epic create",
			req:    Request{Message: "Create epic in TT with title Test Epic", Intent: intent.ContainerMutate, Params: map[string]string{"container_key": "TT", "item_title": "Test Epic"}},
			phrase: "I couldn't confirm the epic change (project TT, title 'Test Epic') in Jira right now.",
		},
		{
			name:   "failed sprint create",
			req:    Request{Message: "Create sprint in board 3 named Sprint 9", Intent: intent.WindowMutate, Params: map[string]string{"window_container_id": "3", "item_name": "Sprint 9"}},
			phrase: "I couldn't confirm the sprint change (board 3, name 'Sprint 9') in Jira right now.",
		},
		{
			name:   "failed sprint lookup",
			req:    Request{Message: "show sprint 4", Intent: intent.WindowQuery, Params: map[string]string{"item_key": "4"}},
			phrase: "I couldn't retrieve sprint information (key 4) from Jira right now.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(Template(tt.req), tt.phrase), Template(tt.req))
		})
	}
}

func TestEngine_DefaultHistoryWindow(t *testing.T) {
	backend := &fakeBackend{reply: "ok"}
	engine := NewEngine(backend, EngineConfig{}, nil)

	var history []models.ConversationTurn
	for i := 1; i <= 7; i++ {
		history = append(history, models.ConversationTurn{Role: models.RoleUser, Text: "turn " + strconv.Itoa(i)})
	}
	engine.Generate(context.Background(), Request{Message: "next", History: history})

	assert.NotContains(t, backend.prompt, "user: turn 2\n")
	for i := 3; i <= 7; i++ {
		assert.Contains(t, backend.prompt, "user: turn "+strconv.Itoa(i)+"\n")
	}
}

func TestEngine_TemplateOnly(t *testing.T) {
	engine := NewEngine(nil, EngineConfig{}, nil)
	assert.Equal(t, BackendTemplate, engine.Mode())

	out := engine.Generate(context.Background(), Request{Message: "what is an epic"})
	assert.True(t, out.UsedFallback)
	assert.Equal(t, BackendTemplate, out.Backend)
	assert.NoError(t, out.Err)
	assert.True(t, strings.HasPrefix(out.Text, "I can help you with Epic-related questions."))
}

func TestEngine_ModelReplyIsCleaned(t *testing.T) {
	backend := &fakeBackend{reply: "  Epics   group work.\n\nThey span sprints and"}
	engine := NewEngine(backend, EngineConfig{HistoryTurns: 2}, logger.NewTestLogger(t))

	history := []models.ConversationTurn{
		{Role: models.RoleUser, Text: "first"},
		{Role: models.RoleAssistant, Text: "second"},
		{Role: models.RoleUser, Text: "third"},
	}
	out := engine.Generate(context.Background(), Request{
		Message:  "what is an epic",
		History:  history,
		Passages: []knowledge.Passage{{Text: "Epics are large bodies of work.", SourceURL: "https://support.atlassian.com/epics"}},
	})

	require.False(t, out.UsedFallback)
	assert.Equal(t, BackendOllama, out.Backend)
	assert.Equal(t, "Epics group work.", out.Text)

	assert.NotContains(t, backend.prompt, "user: first")
	assert.Contains(t, backend.prompt, "assistant: second\nuser: third\n")
	assert.Contains(t, backend.prompt, "[1] Epics are large bodies of work. (source: https://support.atlassian.com/epics)")
	assert.True(t, strings.HasSuffix(backend.prompt, "user: what is an epic\nAssistant:"))
}

func TestEngine_FallbackOnModelFailure(t *testing.T) {
	apiRes := result(jira.OpCreateContainer, "TT-7", `{"id":"7","key":"TT-7"}`)
	params := map[string]string{"container_key": "TT", "item_title": "Audit"}

	tests := []struct {
		name    string
		backend *fakeBackend
		timeout time.Duration
		code    apperrors.ErrorCode
	}{
		{name: "error", backend: &fakeBackend{err: errors.New("connection refused")}, code: apperrors.ErrCodeGenerationFailed},
		{name: "empty", backend: &fakeBackend{reply: "   "}, code: apperrors.ErrCodeGenerationFailed},
		{name: "panic", backend: &fakeBackend{panics: true}, code: apperrors.ErrCodeGenerationFailed},
		{name: "timeout", backend: &fakeBackend{reply: "late", delay: time.Second}, timeout: 20 * time.Millisecond, code: apperrors.ErrCodeGenerationTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(tt.backend, EngineConfig{Timeout: tt.timeout}, logger.NewNoOpLogger())
			out := engine.Generate(context.Background(), Request{Message: "create epic", API: apiRes, Params: params})

			assert.True(t, out.UsedFallback)
			assert.Equal(t, BackendTemplate, out.Backend)
			assert.Equal(t, "Successfully created epic in project TT (Epic: TT-7).", out.Text)
			assert.Equal(t, tt.code, apperrors.CodeOf(out.Err))
		})
	}
}

func TestCleanResponse_CapsLength(t *testing.T) {
	long := strings.Repeat("word ", 200)
	out := CleanResponse(long, 50)
	assert.LessOrEqual(t, len(out), 50)
	assert.True(t, strings.HasSuffix(out, "..."))
}

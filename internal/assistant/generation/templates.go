package generation

import (
	"regexp"
	"strings"

	"jira-support-bot/internal/assistant/intent"
	"jira-support-bot/internal/assistant/knowledge"
	"jira-support-bot/internal/common/jira"
)

var apiTemplates = map[string]string{
	jira.OpListContainers:  "Found {{count}} epics.\n{{items}}",
	jira.OpGetContainer:    "Epic {{resource_id}}: {{summary}} (status: {{status}}).",
	jira.OpCreateContainer: "Successfully created epic in project {{container_key}} (Epic: {{resource_id}}).",
	jira.OpUpdateContainer: "Successfully updated epic {{resource_id}}. New title: {{item_title}}.",
	jira.OpListWindows:     "Found {{count}} sprints.\n{{items}}",
	jira.OpGetWindow:       "Sprint {{resource_id}}: {{name}} ({{state}}).",
	jira.OpCreateWindow:    "Successfully created sprint '{{item_name}}' in board {{window_container_id}} (Sprint ID: {{resource_id}}).",
	jira.OpUpdateWindow:    "Successfully updated sprint {{resource_id}}. New name: {{item_name}}.",
	jira.OpListWindowItems: "Sprint {{resource_id}} has {{count}} issues.\n{{items}}",
	jira.OpListBoards:      "Found {{count}} boards.\n{{items}}",
}

const docsTemplate = "Here is what the Jira documentation says:\n\n{{passage}}\n\nSource: {{source_url}}"

// createdWithoutID confirm a write whose response carried no identifier.
var createdWithoutID = map[string]string{
	jira.OpCreateContainer: "Successfully created epic {{item_title}} in project {{container_key}}. Jira did not return the new epic key, so check the project backlog for it.",
	jira.OpCreateWindow:    "Successfully created sprint {{item_name}} in board {{window_container_id}}. Jira did not return the new sprint ID.",
}

// intentTemplates answer a resource intent when neither Jira nor the
// documentation produced anything. {{request}} expands to the values the
// user gave.
var intentTemplates = map[intent.Intent]string{
	intent.ContainerQuery:  "I couldn't retrieve epic information{{request}} from Jira right now. Please try again in a moment, or open the Epics panel in your project's backlog.",
	intent.ContainerMutate: "I couldn't confirm the epic change{{request}} in Jira right now. Please check the project before trying again.",
	intent.WindowQuery:     "I couldn't retrieve sprint information{{request}} from Jira right now. Please try again in a moment, or open the Sprints view on your board.",
	intent.WindowMutate:    "I couldn't confirm the sprint change{{request}} in Jira right now. Please check the board before trying again.",
}

var requestLabels = []struct {
	slot  string
	label string
}{
	{"container_key", "project"},
	{"item_key", "key"},
	{"window_container_id", "board"},
	{"item_title", "title"},
	{"item_name", "name"},
}

// requestDetails renders " (project TT, title 'Test Epic')" from the
// extracted values, or nothing when there are none.
func requestDetails(params map[string]string) string {
	var parts []string
	for _, l := range requestLabels {
		v := strings.TrimSpace(params[l.slot])
		if v == "" {
			continue
		}
		if l.slot == "item_title" || l.slot == "item_name" {
			v = "'" + v + "'"
		}
		parts = append(parts, l.label+" "+v)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

type topicTemplate struct {
	words *regexp.Regexp
	text  string
}

// generalTemplates are checked in order; the last one always matches.
var generalTemplates = []topicTemplate{
	{regexp.MustCompile(`(?i)\bepics?\b`), "I can help you with Epic-related questions. Epics are large pieces of work that can be broken down into smaller tasks. You can create, view, and manage epics in Jira Software Cloud."},
	{regexp.MustCompile(`(?i)\bsprints?\b`), "I can help you with Sprint-related questions. Sprints are time-boxed iterations in Agile development, typically lasting 1-4 weeks. You can create, manage, and track sprints in Jira Software Cloud."},
	{regexp.MustCompile(`(?i)\b(create|add|new)\b`), "I can help you create new items in Jira. Whether you need to create epics, sprints, or issues, I can guide you through the process."},
	{regexp.MustCompile(`(?i)\b(how|what|where|when|why)\b`), "I can help you understand how to use Jira Software Cloud. Please ask me a specific question about epics, sprints, or any other Jira features."},
	{regexp.MustCompile(`.*`), "I'm here to help you with Jira Software Cloud. I can assist with questions about epics, sprints, issues, and other Jira features. What would you like to know?"},
}

var clarifyActions = map[string]string{
	jira.OpCreateContainer: "create an epic",
	jira.OpUpdateContainer: "update an epic",
	jira.OpGetContainer:    "look up an epic",
	jira.OpCreateWindow:    "create a sprint",
	jira.OpUpdateWindow:    "update a sprint",
	jira.OpGetWindow:       "look up a sprint",
	jira.OpListWindowItems: "list the issues in a sprint",
}

var clarifyExamples = map[string]string{
	jira.OpCreateContainer: "Create epic in PROJ with title My Epic",
	jira.OpUpdateContainer: "Rename epic PROJ-12 to My new title",
	jira.OpGetContainer:    "Show epic PROJ-12",
	jira.OpCreateWindow:    "Create sprint in board 123 named Sprint 1",
	jira.OpUpdateWindow:    "Rename sprint 42 to Sprint 2",
	jira.OpGetWindow:       "Show sprint 42",
	jira.OpListWindowItems: "Show issues in sprint 42",
}

const clarifyTemplate = "To {{action}}, please provide the {{field}}. For example: '{{example}}'"

var (
	placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)
	spaceRuns   = regexp.MustCompile(`[ \t]{2,}`)
)

// substitute fills {{name}} placeholders; unknown names are removed.
func substitute(tmpl string, vars map[string]string) string {
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		return vars[key]
	})
	out = spaceRuns.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// Clarification asks for the one missing field of an operation.
func Clarification(operation, field string) string {
	action, ok := clarifyActions[operation]
	if !ok {
		action = "do that"
	}
	vars := map[string]string{"action": action, "field": field, "example": clarifyExamples[operation]}
	text := substitute(clarifyTemplate, vars)
	if vars["example"] == "" {
		text = strings.TrimSuffix(text, " For example: ''")
	}
	return text + "."
}

// Confirmation renders the success line of a mutation.
func Confirmation(res *jira.Result, params map[string]string) string {
	vars, _ := apiFacts(res)
	for k, v := range params {
		vars[k] = v
	}
	tmpl, ok := apiTemplates[res.Operation]
	if res.ResourceID == "" {
		if alt, found := createdWithoutID[res.Operation]; found {
			if vars["item_title"] != "" {
				vars["item_title"] = "'" + vars["item_title"] + "'"
			}
			if vars["item_name"] != "" {
				vars["item_name"] = "'" + vars["item_name"] + "'"
			}
			tmpl = alt
		}
	}
	if !ok {
		return "Jira " + strings.ReplaceAll(res.Operation, "_", " ") + " succeeded: " + res.ResourceID + "."
	}
	return substitute(tmpl, vars)
}

// GeneralTemplate picks the canned answer for a general question by topic.
func GeneralTemplate(message string) string {
	for _, t := range generalTemplates {
		if t.words.MatchString(message) {
			return t.text
		}
	}
	return generalTemplates[len(generalTemplates)-1].text
}

// Template is the fallback answer for a request. It never returns
// empty text.
func Template(req Request) string {
	var text string
	switch {
	case req.API != nil:
		text = Confirmation(req.API, req.Params)
	case len(req.Passages) > 0:
		text = docsAnswer(req.Passages[0])
	default:
		if t, ok := intentTemplates[req.Intent]; ok {
			text = substitute(t, map[string]string{"request": requestDetails(req.Params)})
		} else {
			text = GeneralTemplate(req.Message)
		}
	}

	if strings.TrimSpace(text) == "" {
		text = GeneralTemplate(req.Message)
	}
	return text
}

func docsAnswer(p knowledge.Passage) string {
	return substitute(docsTemplate, map[string]string{
		"passage":    strings.TrimSpace(p.Text),
		"source_url": p.SourceURL,
	})
}

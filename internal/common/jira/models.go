package jira

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// ProjectKeyPattern is the shape of a Jira project key.
const ProjectKeyPattern = `^[A-Z][A-Z0-9]{1,9}$`

var projectKeyRe = regexp.MustCompile(ProjectKeyPattern)

// ValidProjectKey reports whether key can be used as a project key.
func ValidProjectKey(key string) bool {
	return projectKeyRe.MatchString(key)
}

// Operation names used for results, errors, metrics and cache keys.
const (
	OpListContainers  = "list_containers"
	OpGetContainer    = "get_container"
	OpCreateContainer = "create_container"
	OpUpdateContainer = "update_container"
	OpListWindows     = "list_windows"
	OpGetWindow       = "get_window"
	OpCreateWindow    = "create_window"
	OpUpdateWindow    = "update_window"
	OpListWindowItems = "list_window_items"
	OpListBoards      = "list_boards"
	OpPing            = "ping"
)

// Result is a successful tracking system call. Raw is the body as returned;
// Payload is the same body decoded generically.
type Result struct {
	Operation  string                 `json:"operation"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Raw        json.RawMessage        `json:"raw,omitempty"`
	Payload    map[string]interface{} `json:"-"`
}

// Decode unmarshals the raw body into v.
func (r *Result) Decode(v interface{}) error {
	if len(r.Raw) == 0 {
		return nil
	}
	return json.Unmarshal(r.Raw, v)
}

func newResult(operation, resourceID string, raw []byte) (*Result, error) {
	res := &Result{Operation: operation, ResourceID: resourceID}
	if len(raw) == 0 {
		res.Payload = map[string]interface{}{}
		return res, nil
	}
	res.Raw = append(json.RawMessage(nil), raw...)
	if err := json.Unmarshal(raw, &res.Payload); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", operation, err)
	}
	return res, nil
}

type Status struct {
	Name string `json:"name"`
}

type IssueFields struct {
	Summary string `json:"summary"`
	Status  Status `json:"status"`
}

// Issue is the subset of an issue the assistant renders.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// SearchPage is the envelope of /rest/api/3/search and /sprint/{id}/issue.
type SearchPage struct {
	Total  int     `json:"total"`
	Issues []Issue `json:"issues"`
}

type Sprint struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	State         string `json:"state"`
	OriginBoardID int    `json:"originBoardId"`
	StartDate     string `json:"startDate,omitempty"`
	EndDate       string `json:"endDate,omitempty"`
}

type BoardLocation struct {
	ProjectKey string `json:"projectKey"`
}

type Board struct {
	ID       int           `json:"id"`
	Name     string        `json:"name"`
	Type     string        `json:"type"`
	Location BoardLocation `json:"location"`
}

// ValuesPage is the Agile API paging envelope.
type ValuesPage[T any] struct {
	IsLast bool `json:"isLast"`
	Values []T  `json:"values"`
}

// createdIssue is the body returned by POST /rest/api/3/issue.
type createdIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// adfDocument wraps plain text as an Atlassian Document Format paragraph.
func adfDocument(text string) map[string]interface{} {
	return map[string]interface{}{
		"version": 1,
		"type":    "doc",
		"content": []interface{}{
			map[string]interface{}{
				"type": "paragraph",
				"content": []interface{}{
					map[string]interface{}{"type": "text", "text": text},
				},
			},
		},
	}
}

// Package jira is the tracking system gateway. Every call issues exactly one
// HTTP request and reports failures as *APIError; retry policy lives with the
// caller.
package jira

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jira-support-bot/internal/common/config"
	httpclient "jira-support-bot/internal/common/http"
)

const (
	defaultMaxResults = 100
	sprintIssueLimit  = 1000
)

var (
	issueFields       = []string{"summary", "description", "status", "assignee", "created", "updated"}
	sprintIssueFields = []string{"summary", "description", "status", "assignee", "issuetype"}
)

// Client talks to Jira Cloud REST v3 and Agile 1.0.
type Client struct {
	http *httpclient.Client
}

// New builds a client. Basic auth is used when an email is configured,
// bearer auth otherwise.
func New(cfg config.JiraConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("jira base url is required")
	}

	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	hc := httpclient.NewClient(timeout).WithBaseURL(cfg.BaseURL)
	if auth := authorization(cfg.Email, cfg.APIToken); auth != "" {
		hc = hc.WithHeader("Authorization", auth)
	}

	return &Client{http: hc}, nil
}

func authorization(email, token string) string {
	switch {
	case token == "":
		return ""
	case email != "":
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(email+":"+token))
	default:
		return "Bearer " + token
	}
}

// BaseURL returns the configured site root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.http.BaseURL()
}

func (c *Client) call(ctx context.Context, operation, method, path string, query url.Values, body interface{}) ([]byte, error) {
	resp, err := c.http.DoJSON(ctx, method, path, query, body)
	if err != nil {
		return nil, classifyTransport(ctx, operation, err)
	}
	if !resp.OK() {
		return nil, classifyStatus(operation, resp.StatusCode, resp.Header, resp.Body)
	}
	return resp.Body, nil
}

// writeResult wraps the body of a successful write. Jira has applied the
// change once it answered 2xx, so an unreadable body yields an empty payload
// instead of an error.
func writeResult(operation, resourceID string, body []byte) *Result {
	res, err := newResult(operation, resourceID, body)
	if err != nil {
		return &Result{Operation: operation, ResourceID: resourceID, Payload: map[string]interface{}{}}
	}
	return res
}

// ListEpics searches epics, optionally restricted to one project.
func (c *Client) ListEpics(ctx context.Context, projectKey string) (*Result, error) {
	jql := "issuetype = Epic"
	if projectKey != "" {
		if !ValidProjectKey(projectKey) {
			return nil, &APIError{Kind: KindRejected, Operation: OpListContainers, Message: fmt.Sprintf("invalid project key %q", projectKey)}
		}
		jql += fmt.Sprintf(" AND project = %q", projectKey)
	}
	jql += " ORDER BY created DESC"

	body, err := c.call(ctx, OpListContainers, http.MethodPost, "/rest/api/3/search", nil, map[string]interface{}{
		"jql":        jql,
		"fields":     issueFields,
		"maxResults": defaultMaxResults,
	})
	if err != nil {
		return nil, err
	}
	return newResult(OpListContainers, projectKey, body)
}

func (c *Client) GetEpic(ctx context.Context, key string) (*Result, error) {
	body, err := c.call(ctx, OpGetContainer, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(key), nil, nil)
	if err != nil {
		return nil, err
	}
	return newResult(OpGetContainer, key, body)
}

// CreateEpic creates an epic; the result's ResourceID is the new issue key.
func (c *Client) CreateEpic(ctx context.Context, projectKey, summary, description string) (*Result, error) {
	fields := map[string]interface{}{
		"project":   map[string]string{"key": projectKey},
		"summary":   summary,
		"issuetype": map[string]string{"name": "Epic"},
	}
	if description != "" {
		fields["description"] = adfDocument(description)
	}

	body, err := c.call(ctx, OpCreateContainer, http.MethodPost, "/rest/api/3/issue", nil, map[string]interface{}{"fields": fields})
	if err != nil {
		return nil, err
	}

	res := writeResult(OpCreateContainer, "", body)
	var created createdIssue
	if err := res.Decode(&created); err == nil {
		res.ResourceID = created.Key
	}
	return res, nil
}

// UpdateEpic sets fields on an existing epic. Jira answers 204 with no body.
func (c *Client) UpdateEpic(ctx context.Context, key string, fields map[string]interface{}) (*Result, error) {
	body, err := c.call(ctx, OpUpdateContainer, http.MethodPut, "/rest/api/3/issue/"+url.PathEscape(key), nil, map[string]interface{}{"fields": fields})
	if err != nil {
		return nil, err
	}
	return writeResult(OpUpdateContainer, key, body), nil
}

// ListSprints lists sprints of one board, or all sprints when boardID is 0.
func (c *Client) ListSprints(ctx context.Context, boardID int) (*Result, error) {
	path := "/rest/agile/1.0/sprint"
	resourceID := ""
	if boardID > 0 {
		resourceID = strconv.Itoa(boardID)
		path = "/rest/agile/1.0/board/" + resourceID + "/sprint"
	}

	body, err := c.call(ctx, OpListWindows, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return newResult(OpListWindows, resourceID, body)
}

func (c *Client) GetSprint(ctx context.Context, sprintID int) (*Result, error) {
	id := strconv.Itoa(sprintID)
	body, err := c.call(ctx, OpGetWindow, http.MethodGet, "/rest/agile/1.0/sprint/"+id, nil, nil)
	if err != nil {
		return nil, err
	}
	return newResult(OpGetWindow, id, body)
}

// CreateSprint creates a sprint on a board. Dates are passed through as
// ISO-8601 strings and omitted when empty.
func (c *Client) CreateSprint(ctx context.Context, name string, boardID int, startDate, endDate string) (*Result, error) {
	payload := map[string]interface{}{
		"name":          name,
		"originBoardId": boardID,
	}
	if startDate != "" {
		payload["startDate"] = startDate
	}
	if endDate != "" {
		payload["endDate"] = endDate
	}

	body, err := c.call(ctx, OpCreateWindow, http.MethodPost, "/rest/agile/1.0/sprint", nil, payload)
	if err != nil {
		return nil, err
	}

	res := writeResult(OpCreateWindow, "", body)
	var created Sprint
	if err := res.Decode(&created); err == nil && created.ID > 0 {
		res.ResourceID = strconv.Itoa(created.ID)
	}
	return res, nil
}

// UpdateSprint partially updates a sprint.
func (c *Client) UpdateSprint(ctx context.Context, sprintID int, fields map[string]interface{}) (*Result, error) {
	id := strconv.Itoa(sprintID)
	body, err := c.call(ctx, OpUpdateWindow, http.MethodPost, "/rest/agile/1.0/sprint/"+id, nil, fields)
	if err != nil {
		return nil, err
	}
	return writeResult(OpUpdateWindow, id, body), nil
}

func (c *Client) ListSprintIssues(ctx context.Context, sprintID int) (*Result, error) {
	id := strconv.Itoa(sprintID)
	query := url.Values{
		"fields":     {strings.Join(sprintIssueFields, ",")},
		"maxResults": {strconv.Itoa(sprintIssueLimit)},
	}
	body, err := c.call(ctx, OpListWindowItems, http.MethodGet, "/rest/agile/1.0/sprint/"+id+"/issue", query, nil)
	if err != nil {
		return nil, err
	}
	return newResult(OpListWindowItems, id, body)
}

func (c *Client) ListBoards(ctx context.Context) (*Result, error) {
	body, err := c.call(ctx, OpListBoards, http.MethodGet, "/rest/agile/1.0/board", nil, nil)
	if err != nil {
		return nil, err
	}
	return newResult(OpListBoards, "", body)
}

// Ping checks credentials against the current-user endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, OpPing, http.MethodGet, "/rest/api/3/myself", nil, nil)
	return err
}

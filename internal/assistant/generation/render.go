package generation

import (
	"fmt"
	"strconv"
	"strings"

	"jira-support-bot/internal/common/jira"
)

const maxListedItems = 10

// apiFacts flattens a tracking system result into template variables and a
// plain text rendering used as model context.
func apiFacts(res *jira.Result) (map[string]string, string) {
	vars := map[string]string{
		"operation":   res.Operation,
		"resource_id": res.ResourceID,
	}

	var lines []string
	switch res.Operation {
	case jira.OpListContainers, jira.OpListWindowItems:
		var page jira.SearchPage
		if err := res.Decode(&page); err == nil {
			vars["count"] = strconv.Itoa(len(page.Issues))
			for _, issue := range page.Issues {
				lines = append(lines, issueLine(issue))
			}
		}
	case jira.OpGetContainer:
		var issue jira.Issue
		if err := res.Decode(&issue); err == nil {
			vars["summary"] = issue.Fields.Summary
			vars["status"] = issue.Fields.Status.Name
			lines = append(lines, issueLine(issue))
		}
	case jira.OpListWindows:
		var page jira.ValuesPage[jira.Sprint]
		if err := res.Decode(&page); err == nil {
			vars["count"] = strconv.Itoa(len(page.Values))
			for _, s := range page.Values {
				lines = append(lines, sprintLine(s))
			}
		}
	case jira.OpGetWindow, jira.OpCreateWindow:
		var s jira.Sprint
		if err := res.Decode(&s); err == nil && s.ID > 0 {
			vars["name"] = s.Name
			vars["state"] = s.State
			lines = append(lines, sprintLine(s))
		}
	case jira.OpListBoards:
		var page jira.ValuesPage[jira.Board]
		if err := res.Decode(&page); err == nil {
			vars["count"] = strconv.Itoa(len(page.Values))
			for _, board := range page.Values {
				lines = append(lines, fmt.Sprintf("- Board %d: %s (%s, project %s)", board.ID, board.Name, board.Type, board.Location.ProjectKey))
			}
		}
	}

	total := len(lines)
	if total > maxListedItems {
		lines = append(lines[:maxListedItems], fmt.Sprintf("...and %d more", total-maxListedItems))
	}
	vars["items"] = strings.Join(lines, "\n")

	text := fmt.Sprintf("Jira %s result", strings.ReplaceAll(res.Operation, "_", " "))
	if res.ResourceID != "" {
		text += " for " + res.ResourceID
	}
	if c, ok := vars["count"]; ok {
		text += " (" + c + " items)"
	}
	text += ":"
	if vars["items"] != "" {
		text += "\n" + vars["items"]
	}
	return vars, text
}

func issueLine(issue jira.Issue) string {
	line := fmt.Sprintf("- %s: %s", issue.Key, issue.Fields.Summary)
	if issue.Fields.Status.Name != "" {
		line += " [" + issue.Fields.Status.Name + "]"
	}
	return line
}

func sprintLine(s jira.Sprint) string {
	line := fmt.Sprintf("- Sprint %d: %s", s.ID, s.Name)
	if s.State != "" {
		line += " (" + s.State + ")"
	}
	return line
}

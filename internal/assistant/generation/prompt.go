package generation

import (
	"fmt"
	"regexp"
	"strings"

	"jira-support-bot/internal/assistant/knowledge"
	"jira-support-bot/internal/models"
)

const systemPreamble = "You are a helpful Jira customer support chatbot. You help users with questions about Jira Software Cloud, " +
	"including Epics, Sprints, Issues, and other Jira features. Be helpful, accurate, and concise in your responses."

const maxContextPassages = 3

// BuildPrompt assembles preamble, history, retrieved context and the
// current message, in that order.
func BuildPrompt(history []models.ConversationTurn, context, message string) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
		}
		b.WriteString("\n")
	}

	if context != "" {
		b.WriteString("Context:\n")
		b.WriteString(context)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "user: %s\nAssistant:", message)
	return b.String()
}

// PassagesContext renders the top passages with their sources.
func PassagesContext(passages []knowledge.Passage) string {
	var b strings.Builder
	for i, p := range passages {
		if i == maxContextPassages {
			break
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%d] %s (source: %s)", i+1, strings.TrimSpace(p.Text), p.SourceURL)
	}
	return b.String()
}

var (
	whitespace  = regexp.MustCompile(`\s+`)
	sentenceEnd = regexp.MustCompile(`[.!?][)"']?(\s|$)`)
)

// CleanResponse collapses whitespace, drops a trailing unfinished sentence
// and caps the text at maxLen characters.
func CleanResponse(text string, maxLen int) string {
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if text == "" {
		return ""
	}
	text = dropIncompleteTail(text)

	runes := []rune(text)
	if maxLen <= 0 || len(runes) <= maxLen {
		return text
	}

	cut := strings.TrimSpace(string(runes[:maxLen]))
	if endsSentence(cut) {
		return cut
	}
	if trimmed := dropIncompleteTail(cut); trimmed != cut {
		return trimmed
	}

	// no sentence boundary inside the cap: cut on a word and mark it
	if maxLen <= 3 {
		return cut
	}
	short := string(runes[:maxLen-3])
	if i := strings.LastIndex(short, " "); i > 0 {
		short = short[:i]
	}
	return strings.TrimSpace(short) + "..."
}

func endsSentence(text string) bool {
	return text != "" && strings.ContainsAny(text[len(text)-1:], ".!?")
}

// dropIncompleteTail removes text after the last sentence terminator. Text
// without any terminator is kept as is.
func dropIncompleteTail(text string) string {
	if endsSentence(text) {
		return text
	}
	locs := sentenceEnd.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}
	last := locs[len(locs)-1]
	return strings.TrimSpace(text[:last[1]])
}

// Package intent classifies a chat message into one of five intents with a
// fixed keyword rule table. Classification is pure and safe for concurrent use.
package intent

import (
	"regexp"
	"sort"
	"strings"
)

type Intent string

const (
	ContainerQuery  Intent = "container_query"
	ContainerMutate Intent = "container_mutate"
	WindowQuery     Intent = "window_query"
	WindowMutate    Intent = "window_mutate"
	General         Intent = "general"
)

// DefaultThreshold is the minimum winning score for a non-general intent.
const DefaultThreshold = 0.5

const (
	resourceWeight   = 0.45
	actionWeight     = 0.45
	helpActionWeight = 0.2
	generalHelp      = 0.7
	generalBase      = 0.3
)

// IsMutation reports whether the intent writes to the tracking system.
func (i Intent) IsMutation() bool {
	return i == ContainerMutate || i == WindowMutate
}

// IsResource reports whether the intent targets the tracking system at all.
func (i Intent) IsResource() bool {
	return i != General && i != ""
}

// IsContainer reports whether the intent is about epics.
func (i Intent) IsContainer() bool {
	return i == ContainerQuery || i == ContainerMutate
}

var (
	containerWords = []string{"epic", "epics", "feature", "features", "large story"}
	windowWords    = []string{"sprint", "sprints", "iteration", "iterations"}
	mutateWords    = []string{"create", "add", "new", "make", "update", "modify", "change", "edit", "rename"}
	queryWords     = []string{"list", "show", "display", "get", "find", "fetch", "retrieve", "details", "status"}
	helpWords      = []string{"how", "what", "why", "explain", "can i", "where"}
)

type rule struct {
	intent    Intent
	resources []string
	actions   []string
}

// rules is ordered by tie-break priority: mutate before query, container
// before window. General is scored separately and always ranks last.
var rules = []rule{
	{ContainerMutate, containerWords, mutateWords},
	{WindowMutate, windowWords, mutateWords},
	{ContainerQuery, containerWords, queryWords},
	{WindowQuery, windowWords, queryWords},
}

// Priority lists every intent from highest to lowest tie-break rank.
var Priority = []Intent{ContainerMutate, WindowMutate, ContainerQuery, WindowQuery, General}

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

// Classification is the outcome for one message.
type Classification struct {
	Intent     Intent             `json:"intent"`
	Confidence float64            `json:"confidence"`
	Scores     map[Intent]float64 `json:"scores"`
	// Top is the best scoring intent before the threshold was applied.
	Top Intent `json:"top"`
}

type Classifier struct {
	threshold float64
}

func NewClassifier(threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{threshold: threshold}
}

func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Classify scores text against every rule and resolves the winner.
func (c *Classifier) Classify(text string) Classification {
	scores := Score(text)

	top := General
	best := -1.0
	for _, candidate := range Priority {
		if s := scores[candidate]; s > best {
			top, best = candidate, s
		}
	}

	resolved := top
	if best < c.threshold {
		resolved = General
	}

	return Classification{
		Intent:     resolved,
		Confidence: scores[resolved],
		Scores:     scores,
		Top:        top,
	}
}

// Score returns the raw score of every intent for text.
func Score(text string) map[Intent]float64 {
	padded := normalize(text)
	help := containsAny(padded, helpWords)

	scores := make(map[Intent]float64, len(Priority))
	for _, r := range rules {
		var s float64
		if containsAny(padded, r.resources) {
			s += resourceWeight
		}
		if containsAny(padded, r.actions) {
			if help {
				s += helpActionWeight
			} else {
				s += actionWeight
			}
		}
		scores[r.intent] = clamp(s)
	}

	if help {
		scores[General] = generalHelp
	} else {
		scores[General] = generalBase
	}
	return scores
}

// Topics lists the intents a text touches: every rule with a keyword hit,
// plus general for help phrasing. The result is sorted.
func Topics(text string) []string {
	padded := normalize(text)

	var topics []string
	for _, r := range rules {
		if containsAny(padded, r.resources) || containsAny(padded, r.actions) {
			topics = append(topics, string(r.intent))
		}
	}
	if containsAny(padded, helpWords) {
		topics = append(topics, string(General))
	}
	sort.Strings(topics)
	return topics
}

// normalize lowercases text and reduces it to single-space separated words
// with a leading and trailing space, so " word " matches whole words only.
func normalize(text string) string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	return " " + strings.Join(words, " ") + " "
}

func containsAny(padded string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(padded, " "+kw+" ") {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

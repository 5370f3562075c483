// internal/models/chat.go
package models

import (
	"sort"
	"time"
)

// Provenance tags carried in ChatResponse.Sources.
const (
	SourceAPI      = "api"
	SourceDocs     = "docs"
	SourceFallback = "fallback"
	intentPrefix   = "intent_"
)

// IntentSource returns the provenance tag for a resolved intent.
func IntentSource(intent string) string {
	return intentPrefix + intent
}

// ChatRequest is the inbound chat message
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is what every routed message produces
type ChatResponse struct {
	Response   string                 `json:"response"`
	Confidence float64                `json:"confidence"`
	Sources    []string               `json:"sources"`
	Metadata   map[string]interface{} `json:"metadata"`
	Timestamp  time.Time              `json:"timestamp"`
}

// HasSource checks if the response carries a provenance tag
func (r *ChatResponse) HasSource(source string) bool {
	for _, s := range r.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// SourceSet collects provenance tags without duplicates.
type SourceSet map[string]struct{}

func NewSourceSet(sources ...string) SourceSet {
	s := SourceSet{}
	s.Add(sources...)
	return s
}

func (s SourceSet) Add(sources ...string) {
	for _, src := range sources {
		if src != "" {
			s[src] = struct{}{}
		}
	}
}

// Sorted returns the tags in lexical order for stable serialization.
func (s SourceSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for src := range s {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

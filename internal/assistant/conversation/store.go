// Package conversation keeps a bounded in-memory window of turns per chat
// session. Each session has its own lock; the session map itself is only
// held for lookups.
package conversation

import (
	"sort"
	"sync"

	"jira-support-bot/internal/common/metrics"
	"jira-support-bot/internal/models"
)

const (
	DefaultWindow = 10
	topicTurns    = 5
)

type session struct {
	mu    sync.Mutex
	turns []models.ConversationTurn
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	window   int
}

var _ models.SessionStore = (*Store)(nil)

func NewStore(window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{sessions: make(map[string]*session), window: window}
}

func (s *Store) Window() int {
	return s.window
}

func (s *Store) get(id string, create bool) *session {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok || !create {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[id]; !ok {
		sess = &session{}
		s.sessions[id] = sess
		metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
	return sess
}

// Append adds a turn and evicts the oldest turns beyond the window.
func (s *Store) Append(id string, turn models.ConversationTurn) {
	sess := s.get(id, true)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.turns = append(sess.turns, turn)
	if over := len(sess.turns) - s.window; over > 0 {
		sess.turns = append([]models.ConversationTurn(nil), sess.turns[over:]...)
	}
}

// Turns returns a copy of the session window, oldest first.
func (s *Store) Turns(id string) []models.ConversationTurn {
	return s.Recent(id, 0)
}

// Recent returns up to the last n turns, oldest first. n <= 0 means all.
func (s *Store) Recent(id string, n int) []models.ConversationTurn {
	sess := s.get(id, false)
	if sess == nil {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	turns := sess.turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return append([]models.ConversationTurn(nil), turns...)
}

// Reset drops the session entirely.
func (s *Store) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
}

// Len is the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Summary counts the window's turns by role and collects the topics of the
// last few turns with topics, deduplicated and sorted.
func (s *Store) Summary(id string, topics func(string) []string) models.ConversationSummary {
	turns := s.Turns(id)

	summary := models.ConversationSummary{
		SessionID:    id,
		MessageCount: len(turns),
		RecentTopics: []string{},
	}
	for _, t := range turns {
		switch t.Role {
		case models.RoleUser:
			summary.UserMessages++
		case models.RoleAssistant:
			summary.AssistantMessages++
		}
	}

	if topics == nil {
		return summary
	}
	if len(turns) > topicTurns {
		turns = turns[len(turns)-topicTurns:]
	}
	seen := map[string]bool{}
	for _, t := range turns {
		for _, topic := range topics(t.Text) {
			if !seen[topic] {
				seen[topic] = true
				summary.RecentTopics = append(summary.RecentTopics, topic)
			}
		}
	}
	sort.Strings(summary.RecentTopics)
	return summary
}

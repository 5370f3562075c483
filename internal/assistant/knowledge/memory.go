package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"jira-support-bot/internal/common/database"
)

type entry struct {
	passage Passage
	vector  []float64
	norm    float64
}

// MemoryIndex holds the whole corpus in memory. It is built once and only
// read afterwards.
type MemoryIndex struct {
	entries []entry
	skipped int
}

// CorpusSource is the SQL corpus store.
type CorpusSource interface {
	LoadPassages(ctx context.Context) ([]database.PassageRow, error)
}

// LoadMemoryIndex reads every passage from the corpus store.
func LoadMemoryIndex(ctx context.Context, src CorpusSource) (*MemoryIndex, error) {
	rows, err := src.LoadPassages(ctx)
	if err != nil {
		return nil, err
	}
	return NewMemoryIndex(rows), nil
}

// NewMemoryIndex builds an index from corpus rows. Rows with an unreadable
// or zero embedding are skipped and counted.
func NewMemoryIndex(rows []database.PassageRow) *MemoryIndex {
	idx := &MemoryIndex{entries: make([]entry, 0, len(rows))}
	for _, row := range rows {
		var vec []float64
		if err := json.Unmarshal([]byte(row.Embedding), &vec); err != nil || len(vec) == 0 {
			idx.skipped++
			continue
		}
		n := norm(vec)
		if n == 0 {
			idx.skipped++
			continue
		}
		idx.entries = append(idx.entries, entry{
			passage: Passage{ID: row.ID, Text: row.Content, Title: row.Title, SourceURL: row.SourceURL},
			vector:  vec,
			norm:    n,
		})
	}
	return idx
}

func (m *MemoryIndex) Name() string { return "memory" }

func (m *MemoryIndex) Len() int { return len(m.entries) }

// Skipped is the number of corpus rows that could not be indexed.
func (m *MemoryIndex) Skipped() int { return m.skipped }

func (m *MemoryIndex) Ready(ctx context.Context) error {
	if len(m.entries) == 0 {
		return ErrEmptyIndex
	}
	return nil
}

// Query ranks every entry by cosine similarity to vector.
func (m *MemoryIndex) Query(ctx context.Context, vector []float64, topK int) ([]Passage, error) {
	if len(m.entries) == 0 {
		return nil, nil
	}
	qn := norm(vector)
	if qn == 0 {
		return nil, fmt.Errorf("query vector has zero magnitude")
	}

	scored := make([]Passage, 0, len(m.entries))
	for _, e := range m.entries {
		if len(e.vector) != len(vector) {
			continue
		}
		p := e.passage
		p.Score = clampScore(dot(e.vector, vector) / (e.norm * qn))
		scored = append(scored, p)
	}
	if len(scored) == 0 {
		return nil, fmt.Errorf("no indexed passage has dimension %d", len(vector))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm(v []float64) float64 {
	return math.Sqrt(dot(v, v))
}

func clampScore(s float64) float64 {
	return math.Max(-1, math.Min(1, s))
}

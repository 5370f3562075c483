package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"jira-support-bot/internal/common/database"

	"github.com/google/uuid"
)

// record is one line of the corpus export.
type record struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Title     string    `json:"title"`
	SourceURL string    `json:"source_url"`
	Embedding []float64 `json:"embedding"`
}

// Embedder fills in vectors for records exported without one.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// PassageWriter is a destination for converted rows.
type PassageWriter interface {
	Write(ctx context.Context, rows []database.PassageRow) error
	Name() string
}

// readRecords parses JSONL. Blank lines are ignored; a malformed line or one
// without content fails the whole import with its line number.
func readRecords(r io.Reader) ([]record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var out []record
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var rec record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec.Content = strings.TrimSpace(rec.Content)
		if rec.Content == "" {
			return nil, fmt.Errorf("line %d: content is empty", line)
		}
		if rec.ID == "" {
			// Stable across re-imports of the same passage.
			rec.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(rec.SourceURL+"\n"+rec.Content)).String()
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return out, nil
}

// toRows converts records into corpus rows, embedding the ones that arrived
// without a vector. A nil embedder makes a missing vector an error.
func toRows(ctx context.Context, records []record, embedder Embedder) ([]database.PassageRow, error) {
	rows := make([]database.PassageRow, 0, len(records))
	for _, rec := range records {
		vec := rec.Embedding
		if len(vec) == 0 {
			if embedder == nil {
				return nil, fmt.Errorf("passage %s has no embedding and embedding is disabled", rec.ID)
			}
			var err error
			vec, err = embedder.Embed(ctx, rec.Content)
			if err != nil {
				return nil, fmt.Errorf("embed passage %s: %w", rec.ID, err)
			}
		}

		encoded, err := json.Marshal(vec)
		if err != nil {
			return nil, fmt.Errorf("encode embedding for %s: %w", rec.ID, err)
		}
		rows = append(rows, database.PassageRow{
			ID:        rec.ID,
			Content:   rec.Content,
			Title:     rec.Title,
			SourceURL: rec.SourceURL,
			Embedding: string(encoded),
		})
	}
	return rows, nil
}

// dimensions returns the shared vector length, failing on mixed sizes.
func dimensions(rows []database.PassageRow) (int, error) {
	dims := 0
	for _, row := range rows {
		var vec []float64
		if err := json.Unmarshal([]byte(row.Embedding), &vec); err != nil {
			return 0, fmt.Errorf("passage %s: %w", row.ID, err)
		}
		if dims == 0 {
			dims = len(vec)
			continue
		}
		if len(vec) != dims {
			return 0, fmt.Errorf("passage %s has %d dimensions, expected %d", row.ID, len(vec), dims)
		}
	}
	return dims, nil
}

// importCorpus writes rows to every destination in batches.
func importCorpus(ctx context.Context, rows []database.PassageRow, batchSize int, writers ...PassageWriter) error {
	if batchSize <= 0 {
		batchSize = len(rows)
	}
	for _, w := range writers {
		for start := 0; start < len(rows); start += batchSize {
			end := start + batchSize
			if end > len(rows) {
				end = len(rows)
			}
			if err := w.Write(ctx, rows[start:end]); err != nil {
				return fmt.Errorf("%s: rows %d-%d: %w", w.Name(), start, end-1, err)
			}
		}
	}
	return nil
}

// sqlWriter targets the corpus table read by the memory index.
type sqlWriter struct {
	corpus *database.CorpusDB
}

func (w *sqlWriter) Name() string { return "sql" }

func (w *sqlWriter) Write(ctx context.Context, rows []database.PassageRow) error {
	return w.corpus.UpsertPassages(ctx, rows)
}

// indexer is the subset of knowledge.ElasticsearchIndex the loader uses.
type indexer interface {
	IndexPassages(ctx context.Context, rows []database.PassageRow) error
}

type esWriter struct {
	index indexer
}

func (w *esWriter) Name() string { return "elasticsearch" }

func (w *esWriter) Write(ctx context.Context, rows []database.PassageRow) error {
	return w.index.IndexPassages(ctx, rows)
}

package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"jira-support-bot/internal/common/database"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticsearchIndex ranks passages with a script_score cosine query over a
// dense_vector field named "embedding".
type ElasticsearchIndex struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchIndex(client *elasticsearch.Client, index string) *ElasticsearchIndex {
	return &ElasticsearchIndex{client: client, index: index}
}

func (e *ElasticsearchIndex) Name() string { return "elasticsearch" }

type esDocument struct {
	Content   string    `json:"content"`
	Title     string    `json:"title"`
	SourceURL string    `json:"source_url"`
	Embedding []float64 `json:"embedding,omitempty"`
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string     `json:"_id"`
			Score  float64    `json:"_score"`
			Source esDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func buildVectorQuery(vector []float64, topK int) map[string]interface{} {
	return map[string]interface{}{
		"size":    topK,
		"_source": []string{"content", "title", "source_url"},
		"query": map[string]interface{}{
			"script_score": map[string]interface{}{
				"query": map[string]interface{}{"match_all": map[string]interface{}{}},
				"script": map[string]interface{}{
					// shifted by one because script_score must not be negative
					"source": "cosineSimilarity(params.query_vector, 'embedding') + 1.0",
					"params": map[string]interface{}{"query_vector": vector},
				},
			},
		},
	}
}

func (e *ElasticsearchIndex) Query(ctx context.Context, vector []float64, topK int) ([]Passage, error) {
	body, err := json.Marshal(buildVectorQuery(vector, topK))
	if err != nil {
		return nil, err
	}

	req := esapi.SearchRequest{
		Index: []string{e.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search failed: %s", res.String())
	}

	var parsed esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	passages := make([]Passage, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		passages = append(passages, Passage{
			ID:        hit.ID,
			Text:      hit.Source.Content,
			Title:     hit.Source.Title,
			SourceURL: hit.Source.SourceURL,
			Score:     clampScore(hit.Score - 1.0),
		})
	}
	return passages, nil
}

// Ready checks that the index exists.
func (e *ElasticsearchIndex) Ready(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{e.index}}.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("elasticsearch index check: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return fmt.Errorf("%w: index %s not found", ErrEmptyIndex, e.index)
	}
	if res.IsError() {
		return fmt.Errorf("elasticsearch index check failed: %s", res.Status())
	}
	return nil
}

// EnsureIndex creates the index with a dense_vector mapping of dims if it
// does not exist yet.
func (e *ElasticsearchIndex) EnsureIndex(ctx context.Context, dims int) error {
	if err := e.Ready(ctx); err == nil {
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"content":    map[string]interface{}{"type": "text"},
				"title":      map[string]interface{}{"type": "text"},
				"source_url": map[string]interface{}{"type": "keyword"},
				"embedding":  map[string]interface{}{"type": "dense_vector", "dims": dims},
			},
		},
	}
	body, _ := json.Marshal(mapping)

	res, err := esapi.IndicesCreateRequest{Index: e.index, Body: bytes.NewReader(body)}.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", e.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s failed: %s", e.index, res.String())
	}
	return nil
}

// IndexPassages bulk-writes corpus rows, using the row id as document id.
func (e *ElasticsearchIndex) IndexPassages(ctx context.Context, rows []database.PassageRow) error {
	if len(rows) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, row := range rows {
		var vec []float64
		if err := json.Unmarshal([]byte(row.Embedding), &vec); err != nil {
			return fmt.Errorf("passage %s: invalid embedding: %w", row.ID, err)
		}
		meta, _ := json.Marshal(map[string]interface{}{"index": map[string]string{"_index": e.index, "_id": row.ID}})
		doc, _ := json.Marshal(esDocument{Content: row.Content, Title: row.Title, SourceURL: row.SourceURL, Embedding: vec})
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	res, err := esapi.BulkRequest{Body: &buf, Refresh: "true"}.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("bulk index failed: %s", res.String())
	}

	var summary struct {
		Errors bool `json:"errors"`
	}
	data, _ := io.ReadAll(res.Body)
	if err := json.Unmarshal(data, &summary); err == nil && summary.Errors {
		return fmt.Errorf("bulk index reported item errors: %s", truncate(string(data), 300))
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"llama2:latest","size":3825819519},{"name":"all-minilm:latest"}]}`))
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, 0.9, req.Options.TopP)
		if req.Model == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"model crashed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"model":"llama2","response":"Epics group related stories.","done":true}`))
	})
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["prompt"] == "" {
			_, _ = w.Write([]byte(`{"embedding":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestGenerate(t *testing.T) {
	client := New(newDaemon(t).URL, time.Second)

	text, err := client.Generate(context.Background(), GenerateRequest{
		Model:   "llama2",
		Prompt:  "What is an epic?",
		Stream:  true,
		Options: Options{Temperature: 0.7, TopP: 0.9, NumPredict: 256},
	})
	require.NoError(t, err)
	assert.Equal(t, "Epics group related stories.", text)

	_, err = client.Generate(context.Background(), GenerateRequest{Model: "broken", Options: Options{TopP: 0.9}})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestEmbed(t *testing.T) {
	client := New(newDaemon(t).URL, time.Second)

	vec, err := client.Embed(context.Background(), "all-minilm", "sprint planning")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)

	_, err = client.Embed(context.Background(), "all-minilm", "")
	assert.Error(t, err)
}

func TestEnsureModel(t *testing.T) {
	client := New(newDaemon(t).URL, time.Second)
	ctx := context.Background()

	models, err := client.ListModels(ctx)
	require.NoError(t, err)
	assert.Len(t, models, 2)

	assert.NoError(t, client.EnsureModel(ctx, "llama2"))
	assert.NoError(t, client.EnsureModel(ctx, "llama2:latest"))
	assert.ErrorIs(t, client.EnsureModel(ctx, "mistral"), ErrModelNotFound)
}

func TestEnsureModel_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	err := New(addr, time.Second).EnsureModel(context.Background(), "llama2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrModelNotFound)
}

func TestNewDefaults(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, New("", 0).BaseURL())
}

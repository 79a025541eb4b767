package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableQA_LLM_OllamaComplete(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"message": {"content": "SELECT 1"}, "done": true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "test-model", 512)
	out, err := c.Complete(context.Background(), "system text", "user text")
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", out)

	require.Equal(t, "/api/chat", gotPath)
	require.Equal(t, "test-model", gotBody["model"])
	require.Equal(t, false, gotBody["stream"])

	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	require.Equal(t, "system", first["role"])
	require.Equal(t, "system text", first["content"])
}

func TestTableQA_LLM_OllamaStreamedChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(
			`{"message": {"content": "Hello "}, "done": false}` + "\n" +
				`{"message": {"content": "world"}, "done": true}` + "\n"))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "test-model", 512)
	out, err := c.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	require.Equal(t, "Hello world", out)
}

func TestTableQA_LLM_OllamaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": "model not found"}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "missing", 512)
	_, err := c.Complete(context.Background(), "s", "u")
	require.ErrorContains(t, err, "model not found")
}

func TestTableQA_LLM_OllamaBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "m", 512)
	_, err := c.Complete(context.Background(), "s", "u")
	require.ErrorContains(t, err, "status 500")
}

func TestTableQA_LLM_IsOllamaAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.True(t, IsOllamaAvailable(srv.URL))

	srv.Close()
	require.False(t, IsOllamaAvailable(srv.URL))
}

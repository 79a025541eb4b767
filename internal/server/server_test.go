package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wara-ops/tableqa/pkg/agent"
	"github.com/wara-ops/tableqa/pkg/frame"
)

const crewCSV = `name,role,shift
alice,captain,day
bob,engineer,night
carol,engineer,day
`

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFrame(t *testing.T) *frame.Frame {
	t.Helper()
	ctx := context.Background()
	f, err := frame.New(ctx, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	path := filepath.Join(t.TempDir(), "crew.csv")
	require.NoError(t, os.WriteFile(path, []byte(crewCSV), 0o644))
	require.NoError(t, f.Load(ctx, path, ""))
	return f
}

// stubAsker returns a fixed result or error.
type stubAsker struct {
	result  *agent.Result
	err     error
	history []agent.Message
}

func (s *stubAsker) AskWithHistory(_ context.Context, question string, history []agent.Message) (*agent.Result, error) {
	s.history = history
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	r.Question = question
	return &r, nil
}

func newTestServer(t *testing.T, asker Asker) *Server {
	t.Helper()
	s, err := New(&Config{
		Logger: testLogger(t),
		Engine: asker,
		Data:   newTestFrame(t),
	})
	require.NoError(t, err)
	return s
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestTableQA_Server_Ask(t *testing.T) {
	asker := &stubAsker{result: &agent.Result{
		RunID:       "abc123",
		Instruction: "SELECT COUNT(*) AS n FROM crew",
		Explanation: "counts crew",
		Output:      frame.QueryResult{Count: 1},
		Attempts:    1,
		Answer:      "There are 3 crew members.",
	}}
	s := newTestServer(t, asker)

	rec := postJSON(t, s.Router(), "/api/ask", AskRequest{
		Question: "How many crew members are there?",
		History: []HistoryMessage{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "abc123", resp.RunID)
	require.Equal(t, "There are 3 crew members.", resp.Answer)
	require.Equal(t, "SELECT COUNT(*) AS n FROM crew", resp.SQL)
	require.Equal(t, 1, resp.Attempts)
	require.Empty(t, resp.QueryError)

	// History forwarded to the engine.
	require.Len(t, asker.history, 2)
	require.Equal(t, "assistant", asker.history[1].Role)
}

func TestTableQA_Server_AskValidation(t *testing.T) {
	s := newTestServer(t, &stubAsker{result: &agent.Result{}})

	rec := postJSON(t, s.Router(), "/api/ask", AskRequest{Question: "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewReader([]byte("not json")))
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTableQA_Server_AskEngineError(t *testing.T) {
	s := newTestServer(t, &stubAsker{err: fmt.Errorf("model unavailable")})

	rec := postJSON(t, s.Router(), "/api/ask", AskRequest{Question: "anything"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// Internal detail stays out of the response.
	require.NotContains(t, resp["error"], "model unavailable")
}

func TestTableQA_Server_Query(t *testing.T) {
	s := newTestServer(t, &stubAsker{result: &agent.Result{}})

	rec := postJSON(t, s.Router(), "/api/query", QueryRequest{Query: "SELECT COUNT(*) AS n FROM crew"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"n"}, resp.Columns)
	require.Equal(t, 1, resp.RowCount)
	require.Empty(t, resp.Error)
}

func TestTableQA_Server_QuerySQLErrorInBody(t *testing.T) {
	s := newTestServer(t, &stubAsker{result: &agent.Result{}})

	rec := postJSON(t, s.Router(), "/api/query", QueryRequest{Query: "DROP TABLE crew"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Error, "only SELECT and WITH statements are allowed")
}

func TestTableQA_Server_Schema(t *testing.T) {
	s := newTestServer(t, &stubAsker{result: &agent.Result{}})

	req := httptest.NewRequest(http.MethodGet, "/api/schema", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SchemaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"crew"}, resp.Tables)
	require.Contains(t, resp.Schema, "crew")
	require.Contains(t, resp.Schema, "role")
}

func TestTableQA_Server_Healthz(t *testing.T) {
	s := newTestServer(t, &stubAsker{result: &agent.Result{}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestTableQA_Server_Metrics(t *testing.T) {
	s := newTestServer(t, &stubAsker{result: &agent.Result{}})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "tableqa_build_info")
}

func TestTableQA_Server_Validation(t *testing.T) {
	_, err := New(&Config{Data: newTestFrame(t)})
	require.ErrorContains(t, err, "engine is required")

	_, err = New(&Config{Engine: &stubAsker{}})
	require.ErrorContains(t, err, "data backend is required")
}

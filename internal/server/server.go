// Package server exposes the question-answering engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wara-ops/tableqa/internal/server/metrics"
	"github.com/wara-ops/tableqa/pkg/agent"
)

const (
	defaultAddr           = ":8080"
	defaultRequestTimeout = 2 * time.Minute
	shutdownGrace         = 30 * time.Second
)

// Asker answers natural-language questions. *agent.Engine implements it.
type Asker interface {
	AskWithHistory(ctx context.Context, question string, history []agent.Message) (*agent.Result, error)
}

// Config holds the configuration for the HTTP server.
type Config struct {
	Logger         *slog.Logger
	Engine         Asker
	Data           agent.Data
	Addr           string
	Version        string
	AllowedOrigins []string      // CORS origins; empty disables CORS
	RequestTimeout time.Duration // Per-request deadline for /api/ask (default 2m)
}

// Server serves the question-answering API.
type Server struct {
	cfg    *Config
	log    *slog.Logger
	router chi.Router
}

// New creates a new Server.
func New(cfg *Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Data == nil {
		return nil, fmt.Errorf("data backend is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		cfg: cfg,
		log: cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/ask", s.handleAsk)
	r.Post("/api/query", s.handleQuery)
	r.Get("/api/schema", s.handleSchema)

	s.router = r
	metrics.BuildInfo.WithLabelValues(cfg.Version).Set(1)

	return s, nil
}

// Router returns the HTTP handler, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", "addr", s.cfg.Addr, "version", s.cfg.Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// HistoryMessage is one turn of conversation context in an ask request.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	Question string           `json:"question"`
	History  []HistoryMessage `json:"history,omitempty"`
}

// AskResponse is the body of a successful ask.
type AskResponse struct {
	RunID       string `json:"run_id"`
	Answer      string `json:"answer"`
	SQL         string `json:"sql"`
	Explanation string `json:"explanation,omitempty"`
	Rows        int    `json:"rows"`
	Attempts    int    `json:"attempts"`
	QueryError  string `json:"query_error,omitempty"`
	ElapsedMs   int64  `json:"elapsed_ms"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		httpError(w, http.StatusBadRequest, "question is required")
		return
	}

	history := make([]agent.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, agent.Message{Role: m.Role, Content: m.Content})
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.cfg.Engine.AskWithHistory(ctx, req.Question, history)
	elapsed := time.Since(start)
	metrics.RecordAsk(elapsed, err)

	if err != nil {
		s.log.Error("server: ask failed", "error", err)
		httpError(w, http.StatusInternalServerError, "failed to answer question")
		return
	}

	writeJSON(w, http.StatusOK, AskResponse{
		RunID:       result.RunID,
		Answer:      result.Answer,
		SQL:         result.Instruction,
		Explanation: result.Explanation,
		Rows:        result.Output.Count,
		Attempts:    result.Attempts,
		QueryError:  result.Output.Error,
		ElapsedMs:   elapsed.Milliseconds(),
	})
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse is the body of a query result.
type QueryResponse struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	ElapsedMs int64            `json:"elapsed_ms"`
	Error     string           `json:"error,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		httpError(w, http.StatusBadRequest, "query is required")
		return
	}

	start := time.Now()
	result, err := s.cfg.Data.Query(r.Context(), req.Query)
	if err != nil {
		s.log.Error("server: query failed", "error", err)
		httpError(w, http.StatusInternalServerError, "failed to execute query")
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Columns:   result.Columns,
		Rows:      result.Rows,
		RowCount:  result.Count,
		ElapsedMs: time.Since(start).Milliseconds(),
		Error:     result.Error,
	})
}

// SchemaResponse is the body of GET /api/schema.
type SchemaResponse struct {
	Tables []string `json:"tables"`
	Schema string   `json:"schema"`
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.cfg.Data.Schema(r.Context())
	if err != nil {
		s.log.Error("server: schema fetch failed", "error", err)
		httpError(w, http.StatusInternalServerError, "failed to fetch schema")
		return
	}
	writeJSON(w, http.StatusOK, SchemaResponse{
		Tables: s.cfg.Data.Tables(),
		Schema: schema,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

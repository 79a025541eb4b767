// Package agent wires an LLM to tabular data through a two-stage prompt
// pipeline: one model call turns a question into a SQL instruction, the
// instruction runs against the loaded tables, and a second call turns the
// output into a plain-language answer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/wara-ops/tableqa/pkg/frame"
	"github.com/wara-ops/tableqa/pkg/llm"
	"github.com/wara-ops/tableqa/pkg/prompt"
)

const schemaCacheKey = "schema"

// Config holds the configuration for the engine.
type Config struct {
	Logger     *slog.Logger
	LLM        llm.Client
	Data       Data
	Prompts    *Prompts
	MaxRetries int           // Max retries for failed instructions (default 2)
	HeadRows   int           // Preview rows shown to the model per table (default 5)
	SchemaTTL  time.Duration // Schema cache lifetime (default 5m)
	BatchSize  int           // Concurrent questions in AskBatch (default 4)
	OnProgress ProgressFunc  // Optional per-stage progress callback
}

// Data is the tabular backend the engine queries.
type Data interface {
	// Query executes a SQL query. SQL-level errors are reported inside the
	// result, not as a Go error.
	Query(ctx context.Context, sql string) (frame.QueryResult, error)
	// Head returns the first n rows of a table.
	Head(ctx context.Context, table string, n int) (frame.QueryResult, error)
	// Tables lists the loaded table names.
	Tables() []string
	// Schema returns a formatted description of the loaded tables.
	Schema(ctx context.Context) (string, error)
}

// Stage identifies a step of an engine run.
type Stage string

const (
	StageGenerating   Stage = "generating"
	StageExecuting    Stage = "executing"
	StageRetrying     Stage = "retrying"
	StageSynthesizing Stage = "synthesizing"
	StageDone         Stage = "done"
)

// Progress reports the current stage of a run.
type Progress struct {
	Stage   Stage
	Attempt int
	Detail  string
}

// ProgressFunc receives progress updates during Ask. It may be called from
// multiple goroutines when questions run in a batch.
type ProgressFunc func(Progress)

// Message is a turn of conversation history.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Result holds the complete outcome of answering one question.
type Result struct {
	RunID       string
	Question    string
	Instruction string // Final SQL sent to the data layer
	Explanation string
	Output      frame.QueryResult
	Attempts    int // Execution attempts, including retries
	Answer      string
}

// Engine answers natural-language questions about loaded tabular data.
type Engine struct {
	cfg   *Config
	log   *slog.Logger
	cache *ttlcache.Cache[string, string]
	batch pond.ResultPool[*Result]
}

// New creates a new Engine.
func New(cfg *Config) (*Engine, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("LLM client is required")
	}
	if cfg.Data == nil {
		return nil, fmt.Errorf("data backend is required")
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("prompts are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.HeadRows == 0 {
		cfg.HeadRows = 5
	}
	if cfg.SchemaTTL == 0 {
		cfg.SchemaTTL = 5 * time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 4
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](cfg.SchemaTTL),
	)
	go cache.Start()

	return &Engine{
		cfg:   cfg,
		log:   cfg.Logger,
		cache: cache,
		batch: pond.NewResultPool[*Result](cfg.BatchSize),
	}, nil
}

// Close releases the engine's background resources.
func (e *Engine) Close() {
	e.cache.Stop()
	e.batch.StopAndWait()
}

// Ask answers a single question.
func (e *Engine) Ask(ctx context.Context, question string) (*Result, error) {
	return e.AskWithHistory(ctx, question, nil)
}

// AskWithHistory answers a question with conversation context.
func (e *Engine) AskWithHistory(ctx context.Context, question string, history []Message) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is empty")
	}

	runID := uuid.NewString()[:8]
	log := e.log.With("run", runID)

	schema, err := e.schema(ctx)
	if err != nil {
		return nil, err
	}
	preview, err := e.preview(ctx)
	if err != nil {
		return nil, err
	}

	st := &runState{}
	pl, err := e.buildPipeline(log, schema, preview, historyText(history), st)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	log.Info("engine: run started", "question", truncateString(question, 200))
	e.progress(StageGenerating, 0, "")

	out, err := pl.Run(ctx, question)
	if err != nil {
		return nil, err
	}
	answer, ok := out.(string)
	if !ok {
		return nil, fmt.Errorf("pipeline output is %T, want string", out)
	}

	log.Info("engine: run finished", "attempts", st.attempts, "rows", st.output.Count)
	e.progress(StageDone, st.attempts, "")

	return &Result{
		RunID:       runID,
		Question:    question,
		Instruction: st.instruction,
		Explanation: st.explanation,
		Output:      st.output,
		Attempts:    st.attempts,
		Answer:      strings.TrimSpace(answer),
	}, nil
}

// AskBatch answers several independent questions concurrently.
func (e *Engine) AskBatch(ctx context.Context, questions []string) ([]*Result, error) {
	group := e.batch.NewGroupContext(ctx)

	for _, q := range questions {
		q := q
		group.SubmitErr(func() (*Result, error) {
			return e.Ask(ctx, q)
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("batch failed: %w", err)
	}
	return results, nil
}

// schema returns the formatted schema, cached for SchemaTTL.
func (e *Engine) schema(ctx context.Context) (string, error) {
	if item := e.cache.Get(schemaCacheKey); item != nil {
		return item.Value(), nil
	}
	s, err := e.cfg.Data.Schema(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch schema: %w", err)
	}
	e.cache.Set(schemaCacheKey, s, ttlcache.DefaultTTL)
	return s, nil
}

// preview formats the first rows of every loaded table for the
// instruction prompt.
func (e *Engine) preview(ctx context.Context) (string, error) {
	tables := e.cfg.Data.Tables()
	if len(tables) == 0 {
		return "", fmt.Errorf("no tables loaded")
	}

	var b strings.Builder
	for _, table := range tables {
		head, err := e.cfg.Data.Head(ctx, table, e.cfg.HeadRows)
		if err != nil {
			return "", fmt.Errorf("failed to preview table %s: %w", table, err)
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", table, head.Formatted)
	}
	return strings.TrimSpace(b.String()), nil
}

// execute runs a SQL instruction and captures the result. Infrastructure
// errors are folded into the result so the retry loop can feed them back
// to the model.
func (e *Engine) execute(ctx context.Context, log *slog.Logger, sql string) frame.QueryResult {
	result, err := e.cfg.Data.Query(ctx, sql)
	if err != nil {
		return frame.QueryResult{
			SQL:   sql,
			Error: fmt.Sprintf("execution error: %v", err),
		}
	}

	if result.Error != "" {
		log.Info("engine: instruction returned error", "error", result.Error)
	} else {
		log.Info("engine: instruction executed", "rows", result.Count)
	}
	return result
}

// regenerate asks the model to fix a failed instruction, reusing the cached
// instruction system prompt.
func (e *Engine) regenerate(ctx context.Context, system, question, failedSQL, errMsg string) (InstructionResponse, error) {
	userPrompt, err := prompt.New("retry", e.cfg.Prompts.Retry).Render(map[string]string{
		"QUESTION":   question,
		"FAILED_SQL": failedSQL,
		"ERROR":      errMsg,
	})
	if err != nil {
		return InstructionResponse{}, err
	}

	response, err := e.cfg.LLM.Complete(ctx, system, userPrompt, llm.WithCacheControl())
	if err != nil {
		return InstructionResponse{}, fmt.Errorf("LLM completion failed: %w", err)
	}

	inst, err := parseInstructionResponse(response)
	if err != nil {
		return InstructionResponse{}, fmt.Errorf("failed to parse instruction response: %w", err)
	}
	return inst, nil
}

// ZeroRowAnalysis is the model's verdict on an empty result.
type ZeroRowAnalysis struct {
	IsSuspicious bool   `json:"is_suspicious"`
	Reasoning    string `json:"reasoning"`
	Suggestion   string `json:"suggestion"`
}

// analyzeZeroRows asks the LLM whether zero rows is expected or suspicious.
func (e *Engine) analyzeZeroRows(ctx context.Context, question, sql string) (*ZeroRowAnalysis, error) {
	systemPrompt := `You are analyzing a DuckDB SQL query that returned zero rows. Determine if this is expected or suspicious.

Consider:
- The question being asked - does it expect data to exist?
- The SQL query - are there filters that might be too restrictive or use wrong values?
- Common mistakes: wrong string values (e.g., 'Male' vs 'male'), wrong date ranges, incorrect joins

Respond with JSON:
{
  "is_suspicious": true/false,
  "reasoning": "Brief explanation of why zero rows might be expected or suspicious",
  "suggestion": "If suspicious, what might be wrong with the query"
}`

	userPrompt := fmt.Sprintf(`Question: %s

SQL Query:
%s

The query returned 0 rows. Is this expected or suspicious?`, question, sql)

	response, err := e.cfg.LLM.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return &ZeroRowAnalysis{IsSuspicious: false, Reasoning: "Could not analyze"}, nil
	}

	var analysis ZeroRowAnalysis
	if err := json.Unmarshal([]byte(jsonStr), &analysis); err != nil {
		return &ZeroRowAnalysis{IsSuspicious: false, Reasoning: "Could not parse analysis"}, nil
	}

	return &analysis, nil
}

func (e *Engine) progress(stage Stage, attempt int, detail string) {
	if e.cfg.OnProgress != nil {
		e.cfg.OnProgress(Progress{Stage: stage, Attempt: attempt, Detail: detail})
	}
}

// maxHistoryMessages bounds how much conversation context reaches the model.
const maxHistoryMessages = 6

// historyText renders conversation history as a prompt prefix. Returns ""
// when there is no history.
func historyText(history []Message) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}

	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range history {
		role := "User"
		if m.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, truncateString(strings.TrimSpace(m.Content), 500))
	}
	b.WriteString("\n")
	return b.String()
}

//go:build evals

package evals_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/wara-ops/tableqa/pkg/agent"
	"github.com/wara-ops/tableqa/pkg/frame"
	"github.com/wara-ops/tableqa/pkg/llm"
)

func init() {
	possiblePaths := []string{".env", "../../../.env"}

	for _, path := range possiblePaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// evalClient picks a real model backend: Anthropic when an API key is set,
// a local Ollama otherwise. Skips the test when neither is available.
func evalClient(t *testing.T) llm.Client {
	t.Helper()

	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return llm.NewAnthropicClient(anthropic.ModelClaudeHaiku4_5_20251001, 4096)
	}
	if llm.IsOllamaAvailable(llm.DefaultOllamaURL) {
		model := os.Getenv("OLLAMA_MODEL")
		if model == "" {
			model = "qwen2.5-coder:7b"
		}
		return llm.NewOllamaClient(llm.DefaultOllamaURL, model, 4096)
	}

	t.Skip("no model backend available: set ANTHROPIC_API_KEY or run Ollama")
	return nil
}

const passengersCSV = `passenger_id,class,sex,age,fare,survived
1,3,male,22,7.25,false
2,1,female,38,71.28,true
3,3,female,26,7.92,true
4,1,female,35,53.1,true
5,3,male,35,8.05,false
6,2,male,54,26.0,false
7,1,female,4,16.7,true
8,3,male,2,21.08,false
`

func newEvalEngine(t *testing.T) *agent.Engine {
	t.Helper()
	ctx := context.Background()

	f, err := frame.New(ctx, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	path := filepath.Join(t.TempDir(), "passengers.csv")
	require.NoError(t, os.WriteFile(path, []byte(passengersCSV), 0o644))
	require.NoError(t, f.Load(ctx, path, ""))

	prompts, err := agent.LoadPrompts()
	require.NoError(t, err)

	e, err := agent.New(&agent.Config{
		Logger:  testLogger(t),
		LLM:     evalClient(t),
		Data:    f,
		Prompts: prompts,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestEval_Engine_Count(t *testing.T) {
	e := newEvalEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := e.Ask(ctx, "How many passengers are in the dataset?")
	require.NoError(t, err)

	t.Logf("instruction: %s", result.Instruction)
	t.Logf("answer: %s", result.Answer)

	require.Contains(t, result.Answer, "8")
	require.Empty(t, result.Output.Error)
}

func TestEval_Engine_Aggregate(t *testing.T) {
	e := newEvalEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := e.Ask(ctx, "What fraction of female passengers survived?")
	require.NoError(t, err)

	t.Logf("instruction: %s", result.Instruction)
	t.Logf("answer: %s", result.Answer)

	require.Empty(t, result.Output.Error)
	// All four female passengers survived.
	lower := strings.ToLower(result.Answer)
	require.True(t,
		strings.Contains(result.Answer, "100") || strings.Contains(lower, "all"),
		"expected answer to report all female passengers survived, got: %s", result.Answer)
}

func TestEval_Engine_History(t *testing.T) {
	e := newEvalEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	first, err := e.Ask(ctx, "How many passengers travelled in third class?")
	require.NoError(t, err)
	require.Empty(t, first.Output.Error)

	history := []agent.Message{
		{Role: "user", Content: first.Question},
		{Role: "assistant", Content: first.Answer},
	}
	second, err := e.AskWithHistory(ctx, "And how many of them survived?", history)
	require.NoError(t, err)

	t.Logf("instruction: %s", second.Instruction)
	t.Logf("answer: %s", second.Answer)

	require.Empty(t, second.Output.Error)
	require.Contains(t, second.Answer, "1")
}

// Package cli implements the tableqa command line interface.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wara-ops/tableqa/pkg/agent"
	"github.com/wara-ops/tableqa/pkg/frame"
	"github.com/wara-ops/tableqa/pkg/llm"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

const defaultAnthropicModel = string(anthropic.ModelClaudeHaiku4_5_20251001)

func Run() ExitCode {
	// Load .env file if it exists
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "tableqa",
		Short: "Ask natural-language questions about CSV datasets.",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	var verbose bool
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set debug logging level")

	rootCmd.PersistentFlags().StringSlice("data", nil, "CSV file to load (repeatable)")
	rootCmd.PersistentFlags().String("manifest", "", "YAML dataset manifest to load")
	rootCmd.PersistentFlags().String("model", defaultAnthropicModel, "Anthropic model name")
	rootCmd.PersistentFlags().Bool("ollama", false, "use a local Ollama server instead of the Anthropic API")
	rootCmd.PersistentFlags().String("ollama-url", llm.DefaultOllamaURL, "Ollama base URL")
	rootCmd.PersistentFlags().String("ollama-model", "qwen2.5-coder:7b", "Ollama model name")
	rootCmd.PersistentFlags().Int64("max-tokens", 4096, "max completion tokens per model call")
	rootCmd.PersistentFlags().Int("max-retries", 2, "max retries for failed queries")

	rootCmd.AddCommand(
		NewAskCmd().Command(),
		NewServeCmd().Command(),
		NewSchemaCmd().Command(),
	)

	if err := rootCmd.Execute(); err != nil {
		return exitCodeError
	}

	return exitCodeSuccess
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// rootFlags reads the persistent flags shared by every subcommand.
type rootFlags struct {
	verbose     bool
	data        []string
	manifest    string
	model       string
	ollama      bool
	ollamaURL   string
	ollamaModel string
	maxTokens   int64
	maxRetries  int
}

func readRootFlags(flags *pflag.FlagSet) (rootFlags, error) {
	var (
		f   rootFlags
		err error
	)
	if f.verbose, err = flags.GetBool("verbose"); err != nil {
		return f, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	if f.data, err = flags.GetStringSlice("data"); err != nil {
		return f, fmt.Errorf("failed to get data flag: %w", err)
	}
	if f.manifest, err = flags.GetString("manifest"); err != nil {
		return f, fmt.Errorf("failed to get manifest flag: %w", err)
	}
	if f.model, err = flags.GetString("model"); err != nil {
		return f, fmt.Errorf("failed to get model flag: %w", err)
	}
	if f.ollama, err = flags.GetBool("ollama"); err != nil {
		return f, fmt.Errorf("failed to get ollama flag: %w", err)
	}
	if f.ollamaURL, err = flags.GetString("ollama-url"); err != nil {
		return f, fmt.Errorf("failed to get ollama-url flag: %w", err)
	}
	if f.ollamaModel, err = flags.GetString("ollama-model"); err != nil {
		return f, fmt.Errorf("failed to get ollama-model flag: %w", err)
	}
	if f.maxTokens, err = flags.GetInt64("max-tokens"); err != nil {
		return f, fmt.Errorf("failed to get max-tokens flag: %w", err)
	}
	if f.maxRetries, err = flags.GetInt("max-retries"); err != nil {
		return f, fmt.Errorf("failed to get max-retries flag: %w", err)
	}
	return f, nil
}

// newFrame loads the datasets named by --data and --manifest.
func newFrame(ctx context.Context, log *slog.Logger, f rootFlags) (*frame.Frame, error) {
	if len(f.data) == 0 && f.manifest == "" {
		return nil, fmt.Errorf("no datasets: pass --data or --manifest")
	}

	fr, err := frame.New(ctx, log)
	if err != nil {
		return nil, err
	}

	for _, path := range f.data {
		if err := fr.Load(ctx, path, ""); err != nil {
			_ = fr.Close()
			return nil, err
		}
	}
	if f.manifest != "" {
		m, err := frame.ReadManifest(f.manifest)
		if err != nil {
			_ = fr.Close()
			return nil, err
		}
		if err := fr.LoadManifest(ctx, m); err != nil {
			_ = fr.Close()
			return nil, err
		}
	}
	return fr, nil
}

// newClient picks the model backend from the flags.
func newClient(f rootFlags) (llm.Client, error) {
	if f.ollama {
		return llm.NewOllamaClient(f.ollamaURL, f.ollamaModel, f.maxTokens), nil
	}
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set (or pass --ollama)")
	}
	return llm.NewAnthropicClient(anthropic.Model(f.model), f.maxTokens), nil
}

// newEngine builds the full engine stack from the flags. wrapClient, when
// non-nil, decorates the model client (serve uses it for metrics).
func newEngine(ctx context.Context, log *slog.Logger, f rootFlags, onProgress agent.ProgressFunc, wrapClient func(llm.Client) llm.Client) (*agent.Engine, *frame.Frame, error) {
	fr, err := newFrame(ctx, log, f)
	if err != nil {
		return nil, nil, err
	}

	client, err := newClient(f)
	if err != nil {
		_ = fr.Close()
		return nil, nil, err
	}
	if wrapClient != nil {
		client = wrapClient(client)
	}

	prompts, err := agent.LoadPrompts()
	if err != nil {
		_ = fr.Close()
		return nil, nil, err
	}

	e, err := agent.New(&agent.Config{
		Logger:     log,
		LLM:        client,
		Data:       fr,
		Prompts:    prompts,
		MaxRetries: f.maxRetries,
		OnProgress: onProgress,
	})
	if err != nil {
		_ = fr.Close()
		return nil, nil, err
	}
	return e, fr, nil
}

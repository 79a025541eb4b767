package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wara-ops/tableqa/pkg/frame"
	"github.com/wara-ops/tableqa/pkg/llm"
	"github.com/wara-ops/tableqa/pkg/prompt"
	"github.com/wara-ops/tableqa/pkg/qp"
)

// Module names of the two-stage graph.
const (
	moduleInput             = "input"
	moduleInstructionPrompt = "instruction_prompt"
	moduleInstructionLLM    = "instruction_llm"
	moduleParser            = "parser"
	moduleSynthesisPrompt   = "synthesis_prompt"
	moduleSynthesisLLM      = "synthesis_llm"
)

const instructionUserTemplate = `{{HISTORY}}Question: {{QUESTION}}`

const synthesisUserTemplate = `User question: {{QUESTION}}

Instruction:
` + "```sql\n{{INSTRUCTION}}\n```" + `

Instruction output:
{{OUTPUT}}

Answer the user's question based on the output above.`

// runState collects what the parser module observed so the engine can
// report it alongside the synthesized answer.
type runState struct {
	instruction string
	explanation string
	output      frame.QueryResult
	attempts    int
}

// buildPipeline assembles the two-stage graph for one run:
//
//	input -> instruction_prompt -> instruction_llm -> parser -> synthesis_prompt -> synthesis_llm
//
// The input question also fans out to the parser (for retry prompts) and to
// the synthesis prompt. The parser extracts the SQL instruction from the
// model response, executes it, and retries with error feedback before
// handing the formatted output to synthesis.
func (e *Engine) buildPipeline(log *slog.Logger, schema, preview, history string, st *runState) (*qp.Pipeline, error) {
	instructionSystem, err := prompt.New("instruction", e.cfg.Prompts.Instruction).Render(map[string]string{
		"SCHEMA":  schema,
		"PREVIEW": preview,
	})
	if err != nil {
		return nil, err
	}

	pl := qp.New(log)

	modules := []struct {
		name string
		m    qp.Module
	}{
		{moduleInput, qp.InputModule{}},
		{moduleInstructionPrompt, qp.PromptModule{
			Template: prompt.New("instruction_user", instructionUserTemplate),
			Vars:     map[string]string{"HISTORY": history},
		}},
		{moduleInstructionLLM, qp.LLMModule{
			Client:  e.cfg.LLM,
			System:  instructionSystem,
			Options: []llm.CompleteOption{llm.WithCacheControl()},
		}},
		{moduleParser, qp.FnModule(e.parserModule(log, instructionSystem, st))},
		{moduleSynthesisPrompt, qp.PromptModule{
			Template: prompt.New("synthesis_user", synthesisUserTemplate),
		}},
		{moduleSynthesisLLM, qp.LLMModule{
			Client: e.cfg.LLM,
			System: e.cfg.Prompts.Synthesize,
		}},
	}
	for _, mod := range modules {
		if err := pl.AddModule(mod.name, mod.m); err != nil {
			return nil, err
		}
	}

	links := []struct {
		src, dst string
		opts     []qp.LinkOption
	}{
		{moduleInput, moduleInstructionPrompt, []qp.LinkOption{qp.WithDstKey("QUESTION")}},
		{moduleInstructionPrompt, moduleInstructionLLM, nil},
		{moduleInstructionLLM, moduleParser, []qp.LinkOption{qp.WithDstKey("response")}},
		{moduleInput, moduleParser, []qp.LinkOption{qp.WithDstKey("question")}},
		{moduleInput, moduleSynthesisPrompt, []qp.LinkOption{qp.WithDstKey("QUESTION")}},
		{moduleParser, moduleSynthesisPrompt, []qp.LinkOption{qp.WithSrcKey("instruction"), qp.WithDstKey("INSTRUCTION")}},
		{moduleParser, moduleSynthesisPrompt, []qp.LinkOption{qp.WithSrcKey("output"), qp.WithDstKey("OUTPUT")}},
		{moduleSynthesisPrompt, moduleSynthesisLLM, nil},
	}
	for _, l := range links {
		if err := pl.AddLink(l.src, l.dst, l.opts...); err != nil {
			return nil, err
		}
	}

	if err := pl.Validate(); err != nil {
		return nil, err
	}
	return pl, nil
}

// parserModule returns the graph node that turns the raw model response into
// executed instruction output. Execution errors are not module errors: they
// are fed back to the model for up to MaxRetries regeneration attempts, and
// the last result (error included) flows on to synthesis.
func (e *Engine) parserModule(log *slog.Logger, instructionSystem string, st *runState) func(ctx context.Context, in qp.Inputs) (any, error) {
	return func(ctx context.Context, in qp.Inputs) (any, error) {
		response, err := in.String("response")
		if err != nil {
			return nil, err
		}
		question, err := in.String("question")
		if err != nil {
			return nil, err
		}

		inst, err := parseInstructionResponse(response)
		if err != nil {
			return nil, fmt.Errorf("failed to parse instruction response: %w", err)
		}
		st.instruction = inst.SQL
		st.explanation = inst.Explanation

		e.progress(StageExecuting, 1, inst.SQL)
		result := e.execute(ctx, log, inst.SQL)
		st.attempts = 1

		for attempt := 1; result.Error != "" && attempt <= e.cfg.MaxRetries; attempt++ {
			log.Info("engine: retrying failed instruction", "attempt", attempt, "error", result.Error)
			e.progress(StageRetrying, attempt, result.Error)

			regenerated, err := e.regenerate(ctx, instructionSystem, question, st.instruction, result.Error)
			if err != nil {
				// Regeneration failed, keep the previous error
				log.Info("engine: regeneration failed", "attempt", attempt, "error", err)
				continue
			}

			st.instruction = regenerated.SQL
			st.explanation = regenerated.Explanation
			result = e.execute(ctx, log, regenerated.SQL)
			st.attempts++
		}

		if result.Error == "" && result.Count == 0 {
			result = e.handleZeroRows(ctx, log, instructionSystem, question, st, result)
		}

		st.output = result
		e.progress(StageSynthesizing, st.attempts, "")

		return qp.Inputs{
			"instruction": st.instruction,
			"output":      frame.FormatQueryResult(result),
		}, nil
	}
}

// handleZeroRows asks the model whether an empty result is plausible and, if
// not, regenerates the instruction once with the model's own suggestion as
// the error context.
func (e *Engine) handleZeroRows(ctx context.Context, log *slog.Logger, instructionSystem, question string, st *runState, result frame.QueryResult) frame.QueryResult {
	analysis, err := e.analyzeZeroRows(ctx, question, st.instruction)
	if err != nil {
		log.Info("engine: zero-row analysis failed", "error", err)
		return result
	}
	if !analysis.IsSuspicious {
		log.Info("engine: zero rows accepted", "reasoning", analysis.Reasoning)
		return result
	}

	log.Info("engine: zero rows suspicious, regenerating", "suggestion", analysis.Suggestion)
	errMsg := fmt.Sprintf("query returned 0 rows; %s", analysis.Suggestion)
	regenerated, err := e.regenerate(ctx, instructionSystem, question, st.instruction, errMsg)
	if err != nil {
		log.Info("engine: zero-row regeneration failed", "error", err)
		return result
	}
	if cleanSQL(regenerated.SQL) == cleanSQL(st.instruction) {
		return result
	}

	newResult := e.execute(ctx, log, regenerated.SQL)
	st.attempts++
	if newResult.Error != "" {
		// The retry made things worse, keep the clean empty result
		return result
	}
	st.instruction = regenerated.SQL
	st.explanation = regenerated.Explanation
	return newResult
}

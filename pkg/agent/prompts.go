package agent

import (
	"fmt"
	"strings"

	"github.com/wara-ops/tableqa/pkg/agent/prompts"
)

// Prompts contains the engine prompts loaded from embedded files.
type Prompts struct {
	Instruction string // System prompt for SQL generation
	Synthesize  string // System prompt for answer synthesis
	Retry       string // User prompt template for regeneration after an error
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Instruction, err = loadPrompt("INSTRUCTION.md"); err != nil {
		return nil, fmt.Errorf("failed to load INSTRUCTION: %w", err)
	}
	if p.Synthesize, err = loadPrompt("SYNTHESIZE.md"); err != nil {
		return nil, fmt.Errorf("failed to load SYNTHESIZE: %w", err)
	}
	if p.Retry, err = loadPrompt("RETRY.md"); err != nil {
		return nil, fmt.Errorf("failed to load RETRY: %w", err)
	}

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

package qp

import (
	"context"
	"fmt"

	"github.com/wara-ops/tableqa/pkg/llm"
	"github.com/wara-ops/tableqa/pkg/prompt"
)

// InputKey is the name under which the pipeline's input value reaches the
// root module.
const InputKey = "input"

// Inputs is the named value map a module receives.
type Inputs map[string]any

// String returns the input under key as a string.
func (in Inputs) String(key string) (string, error) {
	v, ok := in[key]
	if !ok {
		return "", fmt.Errorf("missing input %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("input %s is %T, want string", key, v)
	}
	return s, nil
}

// Sole returns the single input value, erroring if there is not exactly one.
func (in Inputs) Sole() (any, error) {
	if len(in) != 1 {
		return nil, fmt.Errorf("expected exactly one input, got %d", len(in))
	}
	for _, v := range in {
		return v, nil
	}
	return nil, nil
}

// Module is a node in the pipeline graph.
type Module interface {
	Run(ctx context.Context, in Inputs) (any, error)
}

// InputModule passes the pipeline input through unchanged. It anchors the
// graph's root.
type InputModule struct{}

func (InputModule) Run(_ context.Context, in Inputs) (any, error) {
	v, ok := in[InputKey]
	if !ok {
		return nil, fmt.Errorf("missing input %s", InputKey)
	}
	return v, nil
}

// PromptModule renders a prompt template. Incoming link values fill the
// template variables named by their destination keys; Vars supplies values
// fixed at build time (schema, previews).
type PromptModule struct {
	Template *prompt.Template
	Vars     map[string]string
}

func (m PromptModule) Run(_ context.Context, in Inputs) (any, error) {
	vars := make(map[string]string, len(m.Vars)+len(in))
	for k, v := range m.Vars {
		vars[k] = v
	}
	for k, v := range in {
		vars[k] = fmt.Sprintf("%v", v)
	}
	return m.Template.Render(vars)
}

// LLMModule sends its single string input as the user prompt and returns the
// completion text.
type LLMModule struct {
	Client  llm.Client
	System  string
	Options []llm.CompleteOption
}

func (m LLMModule) Run(ctx context.Context, in Inputs) (any, error) {
	v, err := in.Sole()
	if err != nil {
		return nil, err
	}
	userPrompt, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("LLM input is %T, want string", v)
	}
	return m.Client.Complete(ctx, m.System, userPrompt, m.Options...)
}

// FnModule adapts a plain function into a Module.
type FnModule func(ctx context.Context, in Inputs) (any, error)

func (f FnModule) Run(ctx context.Context, in Inputs) (any, error) {
	return f(ctx, in)
}

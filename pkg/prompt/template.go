// Package prompt provides simple placeholder templates for LLM prompts.
// Placeholders use the {{NAME}} form and are filled by string replacement.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{([A-Z0-9_]+)\}\}`)

// Template is a prompt text with {{NAME}} placeholders.
type Template struct {
	name string
	text string
	vars []string
}

// New parses a template, recording its placeholders.
func New(name, text string) *Template {
	seen := make(map[string]bool)
	var vars []string
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			vars = append(vars, m[1])
		}
	}
	return &Template{name: name, text: text, vars: vars}
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Vars returns the placeholder names in order of first appearance.
func (t *Template) Vars() []string {
	out := make([]string, len(t.vars))
	copy(out, t.vars)
	return out
}

// Render fills every placeholder. A missing variable is an error so a
// half-rendered prompt never reaches the model.
func (t *Template) Render(vars map[string]string) (string, error) {
	out := t.text
	for _, v := range t.vars {
		val, ok := vars[v]
		if !ok {
			return "", fmt.Errorf("template %s: missing variable %s", t.name, v)
		}
		out = strings.ReplaceAll(out, "{{"+v+"}}", val)
	}
	return out, nil
}

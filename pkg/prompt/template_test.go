package prompt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableQA_Prompt_Render(t *testing.T) {
	tmpl := New("greeting", "Hello {{NAME}}, welcome to {{PLACE}}. Goodbye {{NAME}}.")
	require.Equal(t, []string{"NAME", "PLACE"}, tmpl.Vars())

	out, err := tmpl.Render(map[string]string{"NAME": "Ada", "PLACE": "Go"})
	require.NoError(t, err)
	require.Equal(t, "Hello Ada, welcome to Go. Goodbye Ada.", out)
}

func TestTableQA_Prompt_MissingVariable(t *testing.T) {
	tmpl := New("q", "Question: {{QUESTION}}")
	_, err := tmpl.Render(map[string]string{})
	require.ErrorContains(t, err, "missing variable QUESTION")
}

func TestTableQA_Prompt_NoPlaceholders(t *testing.T) {
	tmpl := New("static", "no placeholders here")
	require.Empty(t, tmpl.Vars())

	out, err := tmpl.Render(nil)
	require.NoError(t, err)
	require.Equal(t, "no placeholders here", out)
}

func TestTableQA_Prompt_IgnoresLowercaseBraces(t *testing.T) {
	// Only {{UPPER_CASE}} forms are placeholders; JSON braces in prompt
	// bodies must survive rendering untouched.
	tmpl := New("json", `Respond with {"sql": "..."} for {{QUESTION}}`)
	require.Equal(t, []string{"QUESTION"}, tmpl.Vars())

	out, err := tmpl.Render(map[string]string{"QUESTION": "q"})
	require.NoError(t, err)
	require.Equal(t, `Respond with {"sql": "..."} for q`, out)
}

func TestTableQA_Prompt_ExtraVarsIgnored(t *testing.T) {
	tmpl := New("q", "{{A}}")
	out, err := tmpl.Render(map[string]string{"A": "x", "B": "y"})
	require.NoError(t, err)
	require.Equal(t, "x", out)
}

package agent

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestTableQA_Agent_ParseInstructionResponse(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		inst, err := parseInstructionResponse(`{"sql": "SELECT COUNT(*) FROM passengers;", "explanation": "Counts rows"}`)
		require.NoError(t, err)
		require.Equal(t, "SELECT COUNT(*) FROM passengers", inst.SQL)
		require.Equal(t, "Counts rows", inst.Explanation)
	})

	t.Run("json in code block", func(t *testing.T) {
		inst, err := parseInstructionResponse("Here you go:\n```json\n{\"sql\": \"SELECT 1\", \"explanation\": \"trivial\"}\n```")
		require.NoError(t, err)
		require.Equal(t, "SELECT 1", inst.SQL)
	})

	t.Run("json with braces in strings", func(t *testing.T) {
		inst, err := parseInstructionResponse(`Some preamble {"sql": "SELECT '{a}' AS v", "explanation": "literal {braces}"} trailing`)
		require.NoError(t, err)
		require.Equal(t, "SELECT '{a}' AS v", inst.SQL)
	})

	t.Run("sql code block fallback", func(t *testing.T) {
		inst, err := parseInstructionResponse("I wrote this query:\n```sql\nSELECT fare FROM passengers LIMIT 5;\n```\nIt lists fares.")
		require.NoError(t, err)
		require.Equal(t, "SELECT fare FROM passengers LIMIT 5", inst.SQL)
		require.Contains(t, inst.Explanation, "It lists fares.")
	})

	t.Run("generic code block fallback", func(t *testing.T) {
		inst, err := parseInstructionResponse("```\nWITH t AS (SELECT 1) SELECT * FROM t\n```")
		require.NoError(t, err)
		require.Equal(t, "WITH t AS (SELECT 1) SELECT * FROM t", inst.SQL)
	})

	t.Run("bare sql", func(t *testing.T) {
		inst, err := parseInstructionResponse("SELECT AVG(age) FROM passengers")
		require.NoError(t, err)
		require.Equal(t, "SELECT AVG(age) FROM passengers", inst.SQL)
	})

	t.Run("no sql at all", func(t *testing.T) {
		_, err := parseInstructionResponse("I cannot answer that question.")
		require.Error(t, err)
	})
}

func TestTableQA_Agent_ExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"raw object", `{"sql": "SELECT 1"}`, `{"sql": "SELECT 1"}`},
		{"nested object", `{"a": {"b": 1}}`, `{"a": {"b": 1}}`},
		{"escaped quote in string", `{"sql": "SELECT '\"'"}`, `{"sql": "SELECT '\"'"}`},
		{"surrounded by prose", `Sure! {"sql": "SELECT 1"} hope that helps`, `{"sql": "SELECT 1"}`},
		{"unbalanced braces", `{"sql": "SELECT 1"`, ""},
		{"no json", "just text", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, extractJSON(tt.response))
		})
	}
}

func TestTableQA_Agent_TruncateString(t *testing.T) {
	require.Equal(t, "short", truncateString("short", 10))
	require.Equal(t, "abc...", truncateString("abcdef", 3))

	// The cut must land on a rune boundary, not mid-way through a
	// multi-byte character.
	require.Equal(t, "αβ...", truncateString("αβγδ", 5))
	require.Equal(t, "...", truncateString("日本語", 2))
	for i := 0; i < 12; i++ {
		require.True(t, utf8.ValidString(truncateString("héllo wörld", i)), "maxLen: %d", i)
	}
}

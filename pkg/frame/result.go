package frame

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// QueryResult holds the result of a SQL query.
type QueryResult struct {
	SQL       string
	Columns   []string
	Rows      []map[string]any
	Count     int
	Error     string
	Formatted string // Human-readable formatted result
}

// maxFormattedRows caps how many rows are rendered for the model.
const maxFormattedRows = 50

// formatValueForLLM formats a single value for display to the LLM.
// Floats are rounded to 2 decimal places to avoid long decimals (like
// 3.3333333333333335) that can confuse the model.
func formatValueForLLM(v any) string {
	switch val := v.(type) {
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case float32:
		if val == float32(int32(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%.2f", val)
	case nil:
		return ""
	default:
		s := fmt.Sprintf("%v", v)
		if len(s) > 100 {
			cut := 97
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			s = s[:cut] + "..."
		}
		return s
	}
}

// FormatQueryResult formats a query result for inclusion in a prompt.
func FormatQueryResult(result QueryResult) string {
	if result.Error != "" {
		return fmt.Sprintf("Error: %s", result.Error)
	}

	if len(result.Rows) == 0 {
		return "Query returned no results."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Columns: %s\n", strings.Join(result.Columns, ", ")))
	sb.WriteString(fmt.Sprintf("Rows (%d total):\n", len(result.Rows)))

	displayRows := min(len(result.Rows), maxFormattedRows)
	for i := range displayRows {
		values := make([]string, len(result.Columns))
		for j, col := range result.Columns {
			values[j] = formatValueForLLM(result.Rows[i][col])
		}
		sb.WriteString(strings.Join(values, " | ") + "\n")
	}

	if len(result.Rows) > maxFormattedRows {
		sb.WriteString(fmt.Sprintf("... and %d more rows\n", len(result.Rows)-maxFormattedRows))
	}

	return sb.String()
}

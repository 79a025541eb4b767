package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// InstructionResponse is the expected JSON response from the instruction step.
type InstructionResponse struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

// parseInstructionResponse extracts SQL and explanation from the LLM response.
func parseInstructionResponse(response string) (InstructionResponse, error) {
	response = strings.TrimSpace(response)

	// First, try to parse as JSON
	jsonStr := extractJSON(response)
	if jsonStr != "" {
		var parsed InstructionResponse
		if err := json.Unmarshal([]byte(jsonStr), &parsed); err == nil && parsed.SQL != "" {
			parsed.SQL = cleanSQL(parsed.SQL)
			return parsed, nil
		}
	}

	// Fall back to extracting SQL from code blocks
	if sql := extractSQLFromCodeBlocks(response); sql != "" {
		return InstructionResponse{SQL: sql, Explanation: extractExplanation(response)}, nil
	}

	// Last resort: treat the whole response as SQL if it looks like SQL
	if looksLikeSQL(response) {
		return InstructionResponse{SQL: cleanSQL(response)}, nil
	}

	return InstructionResponse{}, fmt.Errorf("could not extract SQL from response")
}

// extractSQLFromCodeBlocks finds SQL in markdown code blocks.
func extractSQLFromCodeBlocks(response string) string {
	if start := strings.Index(response, "```sql"); start != -1 {
		start += 6 // len("```sql")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return cleanSQL(response[start : start+end])
		}
	}

	// Generic code blocks
	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if looksLikeSQL(content) {
				return cleanSQL(content)
			}
		}
	}

	return ""
}

// looksLikeSQL checks if text appears to be a SQL query.
func looksLikeSQL(text string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	for _, kw := range []string{"SELECT", "WITH"} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

// cleanSQL normalizes SQL by trimming whitespace and removing trailing semicolons.
func cleanSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	sql = strings.TrimSuffix(sql, ";")
	return sql
}

// extractExplanation tries to find explanation text outside of code blocks.
func extractExplanation(response string) string {
	result := response

	for {
		start := strings.Index(result, "```")
		if start == -1 {
			break
		}
		end := strings.Index(result[start+3:], "```")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+3+end+3:]
	}

	return truncateString(strings.TrimSpace(result), 500)
}

// extractJSON finds a JSON object in the response, preferring code blocks.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += 7 // len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(content, "{") {
				return content
			}
		}
	}

	if start := strings.Index(response, "{"); start != -1 {
		return extractJSONObject(response, start)
	}

	return ""
}

// extractJSONObject extracts a complete JSON object starting at the given
// position, properly handling strings that may contain braces.
func extractJSONObject(s string, start int) string {
	if start >= len(s) || s[start] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}

		if c == '\\' && inString {
			escaped = true
			continue
		}

		if c == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return ""
}

// truncateString truncates a string to at most maxLen bytes, adding "..." if
// truncated. The cut never splits a multi-byte rune.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}

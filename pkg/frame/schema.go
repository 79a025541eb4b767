package frame

import (
	"context"
	"fmt"
	"strings"
)

// maxSampleValues is the most distinct values shown for a categorical column.
// Columns with more distinct values than this are treated as high-cardinality
// and listed without samples.
const maxSampleValues = 15

type columnInfo struct {
	Table        string
	Name         string
	Type         string
	SampleValues []string
}

// Schema returns a readable description of all loaded tables: column names
// and types, with distinct sample values for low-cardinality text columns.
// The description is what the model sees, so it favors clarity over
// completeness.
func (f *Frame) Schema(ctx context.Context) (string, error) {
	columns, err := f.fetchColumns(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch columns: %w", err)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("no tables loaded")
	}

	f.enrichWithSampleValues(ctx, columns)

	return formatSchema(columns), nil
}

func (f *Frame) fetchColumns(ctx context.Context) ([]columnInfo, error) {
	rows, err := f.db.QueryContext(ctx, `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'main'
		ORDER BY table_name, ordinal_position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []columnInfo
	for rows.Next() {
		var col columnInfo
		if err := rows.Scan(&col.Table, &col.Name, &col.Type); err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// isCategoricalType returns true if the column type should have sample values displayed.
func isCategoricalType(colType string) bool {
	t := strings.ToLower(colType)
	return strings.Contains(t, "varchar") || strings.Contains(t, "enum") || t == "bool" || t == "boolean"
}

// shouldSkipColumn returns true for columns that shouldn't have samples fetched.
func shouldSkipColumn(colName string) bool {
	name := strings.ToLower(colName)
	skipSuffixes := []string{"_id", "_key", "_code", "_at", "_time", "_timestamp", "_date", "_hash", "_address"}
	for _, suffix := range skipSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	skipExact := []string{"id", "uuid", "name", "description", "comment", "message", "error", "reason"}
	for _, exact := range skipExact {
		if name == exact {
			return true
		}
	}
	return false
}

// enrichWithSampleValues fetches distinct values for categorical columns.
func (f *Frame) enrichWithSampleValues(ctx context.Context, columns []columnInfo) {
	for i := range columns {
		col := &columns[i]
		if !isCategoricalType(col.Type) || shouldSkipColumn(col.Name) {
			continue
		}
		samples, err := f.fetchColumnSamples(ctx, col.Table, col.Name)
		if err != nil {
			f.log.Debug("frame: failed to sample column", "table", col.Table, "column", col.Name, "error", err)
			continue
		}
		if len(samples) > 0 && len(samples) <= maxSampleValues {
			col.SampleValues = samples
		}
	}
}

// fetchColumnSamples returns distinct values for a column, limited to detect
// high cardinality.
func (f *Frame) fetchColumnSamples(ctx context.Context, table, column string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT %s
		FROM %s
		WHERE %s IS NOT NULL
		LIMIT %d
	`, quoteIdentifier(column), quoteIdentifier(table), quoteIdentifier(column), maxSampleValues+1)

	rows, err := f.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []string
	for rows.Next() {
		var val any
		if err := rows.Scan(&val); err != nil {
			return nil, err
		}
		s := fmt.Sprintf("%v", val)
		if s != "" {
			samples = append(samples, s)
		}
	}
	return samples, rows.Err()
}

func formatSchema(columns []columnInfo) string {
	var sb strings.Builder
	currentTable := ""

	for _, col := range columns {
		if col.Table != currentTable {
			if currentTable != "" {
				sb.WriteString("\n")
			}
			currentTable = col.Table
			sb.WriteString(col.Table + ":\n")
		}
		if len(col.SampleValues) > 0 {
			sb.WriteString("  - " + col.Name + " (" + col.Type + ") values: " + strings.Join(col.SampleValues, ", ") + "\n")
		} else {
			sb.WriteString("  - " + col.Name + " (" + col.Type + ")\n")
		}
	}

	return sb.String()
}

// Package frame loads CSV datasets into an embedded DuckDB database and
// executes generated SQL against them. SQL errors are captured in the
// QueryResult rather than returned as Go errors so callers can feed them
// back to the model.
package frame

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Frame is an in-memory DuckDB database holding one or more loaded tables.
type Frame struct {
	log    *slog.Logger
	db     *sql.DB
	tables []string
}

// New opens an empty in-memory frame.
func New(ctx context.Context, log *slog.Logger) (*Frame, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Frame{log: log, db: db}, nil
}

// Load ingests a CSV file into a table. When table is empty the name is
// derived from the file name ("titanic.csv" becomes "titanic").
func (f *Frame) Load(ctx context.Context, path, table string) error {
	if table == "" {
		table = TableNameForPath(path)
	}
	if err := validateIdentifier(table); err != nil {
		return err
	}

	stmt := fmt.Sprintf(
		`CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto(%s, header=true)`,
		quoteIdentifier(table), quoteLiteral(path),
	)
	if _, err := f.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to load %s into table %s: %w", path, table, err)
	}

	var count int
	row := f.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, quoteIdentifier(table)))
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("failed to count rows in table %s: %w", table, err)
	}
	if count == 0 {
		return fmt.Errorf("no rows loaded from %s", path)
	}

	f.tables = append(f.tables, table)
	f.log.Info("frame: loaded dataset", "path", path, "table", table, "rows", count)
	return nil
}

// Tables returns the names of loaded tables in load order.
func (f *Frame) Tables() []string {
	out := make([]string, len(f.tables))
	copy(out, f.tables)
	return out
}

// Query executes a generated SQL query. Only read statements are allowed;
// anything else, and any execution error, is reported in QueryResult.Error.
func (f *Frame) Query(ctx context.Context, query string) (QueryResult, error) {
	query = cleanSQL(query)
	result := QueryResult{SQL: query}

	if !isReadStatement(query) {
		result.Error = "only SELECT and WITH statements are allowed"
		return result, nil
	}

	rows, err := f.db.QueryContext(ctx, query)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	result.Columns = columns

	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			result.Error = err.Error()
			return result, nil
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col] = values[i]
		}
		result.Rows = append(result.Rows, rowMap)
	}
	if err := rows.Err(); err != nil {
		result.Error = err.Error()
		return result, nil
	}

	result.Count = len(result.Rows)
	result.Formatted = FormatQueryResult(result)
	return result, nil
}

// Head returns the first n rows of a table, formatted for prompt context.
func (f *Frame) Head(ctx context.Context, table string, n int) (QueryResult, error) {
	if err := validateIdentifier(table); err != nil {
		return QueryResult{}, err
	}
	if n <= 0 {
		n = 5
	}
	return f.Query(ctx, fmt.Sprintf(`SELECT * FROM %s LIMIT %d`, quoteIdentifier(table), n))
}

func (f *Frame) Close() error {
	return f.db.Close()
}

// TableNameForPath derives a table name from a CSV file path.
func TableNameForPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name = strings.ToLower(name)
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	out := sb.String()
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "t_" + out
	}
	return out
}

// writeKeywords are statement kinds that mutate or escape the dataset. A
// prefix check is not enough: DuckDB accepts Postgres-style data-modifying
// CTEs (WITH ... DELETE FROM ...), so any of these appearing as a bare word
// anywhere in the statement disqualifies it.
var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true,
	"COPY": true, "ATTACH": true, "DETACH": true, "CALL": true,
	"PRAGMA": true, "SET": true, "RESET": true, "INSTALL": true,
	"LOAD": true, "EXPORT": true, "IMPORT": true, "VACUUM": true,
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true,
}

// isReadStatement checks that a query is a single statement that only reads
// data. The statement must start with SELECT or WITH, contain no statement
// separator, and contain no write keyword outside string literals, quoted
// identifiers, or comments.
func isReadStatement(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return false
	}
	words, multi := scanStatement(query)
	if multi {
		return false
	}
	for _, w := range words {
		if writeKeywords[w] {
			return false
		}
	}
	return true
}

// scanStatement walks the statement skipping single-quoted string literals,
// double-quoted identifiers, and SQL comments. It returns every bare word
// uppercased, and whether an unquoted statement separator was seen.
func scanStatement(query string) (words []string, multi bool) {
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			words = append(words, strings.ToUpper(word.String()))
			word.Reset()
		}
	}
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'' || c == '"':
			flush()
			for i++; i < len(query) && query[i] != c; i++ {
			}
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			flush()
			for i += 2; i < len(query) && query[i] != '\n'; i++ {
			}
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			flush()
			for i += 2; i+1 < len(query) && !(query[i] == '*' && query[i+1] == '/'); i++ {
			}
			i++
		case c == ';':
			flush()
			multi = true
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			word.WriteByte(c)
		default:
			flush()
		}
	}
	flush()
	return words, multi
}

// cleanSQL normalizes SQL by trimming whitespace and removing trailing semicolons.
func cleanSQL(query string) string {
	query = strings.TrimSpace(query)
	query = strings.TrimSuffix(query, ";")
	return strings.TrimSpace(query)
}

func validateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("table name is required")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

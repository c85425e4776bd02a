package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"

	_ "modernc.org/sqlite"
)

const (
	defaultDBQueryTimeout = 5 * time.Second
	defaultDBQueryRows    = 200
	maxDBQueryRows        = 1000
)

var (
	// ErrNotReadOnly is returned for statements other than a single SELECT.
	ErrNotReadOnly = errors.New("db_query only accepts a single read-only SELECT statement")

	readOnlySQLRe = regexp.MustCompile(`(?is)^\s*(select|with)\s`)
)

type DBQueryInput struct {
	SQL   string `json:"sql" jsonschema:"required,description=Read-only SELECT statement"`
	Args  []any  `json:"args,omitempty" jsonschema:"description=Positional query arguments"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum rows to return"`
}

type DBQueryOutput struct {
	Rows      []map[string]any `json:"rows"`
	Count     int              `json:"count"`
	Truncated bool             `json:"truncated,omitempty"`
}

type dbQueryToolImpl struct {
	db *sql.DB
}

// OpenReadOnlyDB opens a SQLite database that refuses writes.
func OpenReadOnlyDB(path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("db path is required")
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open query db: %w", err)
	}
	return db, nil
}

// CheckReadOnly validates that sqlText is a single SELECT statement. The
// query_only connection from OpenReadOnlyDB still refuses writes this
// check misses.
func CheckReadOnly(sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	trimmed = strings.TrimSuffix(trimmed, ";")
	if !readOnlySQLRe.MatchString(trimmed + " ") {
		return ErrNotReadOnly
	}
	if strings.Contains(trimmed, ";") {
		return ErrNotReadOnly
	}
	if mainVerb(trimmed) != "select" {
		return ErrNotReadOnly
	}
	return nil
}

var statementVerbs = map[string]bool{
	"select": true, "insert": true, "update": true, "delete": true, "replace": true, "values": true,
}

// mainVerb returns the first statement keyword outside parentheses, so a
// WITH clause resolves to the statement it prefixes. Quoted text is
// skipped.
func mainVerb(sqlText string) string {
	depth := 0
	var word strings.Builder
	flush := func() string {
		w := strings.ToLower(word.String())
		word.Reset()
		if depth == 0 && statementVerbs[w] {
			return w
		}
		return ""
	}

	for i := 0; i < len(sqlText); i++ {
		ch := sqlText[i]
		switch {
		case ch == '_' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9':
			word.WriteByte(ch)
			continue
		}
		if v := flush(); v != "" {
			return v
		}
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
		case '\'', '"', '`':
			if end := strings.IndexByte(sqlText[i+1:], ch); end >= 0 {
				i += end + 1
			} else {
				i = len(sqlText)
			}
		case '[':
			if end := strings.IndexByte(sqlText[i+1:], ']'); end >= 0 {
				i += end + 1
			} else {
				i = len(sqlText)
			}
		}
	}
	return flush()
}

func (d *dbQueryToolImpl) execute(ctx context.Context, input *DBQueryInput) (*DBQueryOutput, error) {
	if d.db == nil {
		return nil, fmt.Errorf("db_query is not configured")
	}
	if err := CheckReadOnly(input.SQL); err != nil {
		return nil, err
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultDBQueryRows
	}
	if limit > maxDBQueryRows {
		limit = maxDBQueryRows
	}

	ctx, cancel := context.WithTimeout(ctx, defaultDBQueryTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, strings.TrimSuffix(strings.TrimSpace(input.SQL), ";"), input.Args...)
	if err != nil {
		return nil, fmt.Errorf("db_query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("db_query columns: %w", err)
	}

	out := &DBQueryOutput{Rows: make([]map[string]any, 0)}
	for rows.Next() {
		if len(out.Rows) >= limit {
			out.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("db_query scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db_query rows: %w", err)
	}
	out.Count = len(out.Rows)
	return out, nil
}

// NewDBQueryTool creates the db_query tool over db. A nil db yields a tool
// that reports it is not configured.
func NewDBQueryTool(db *sql.DB) (tool.InvokableTool, error) {
	impl := &dbQueryToolImpl{db: db}
	return utils.InferTool("db_query", "Run a read-only SELECT against the configured SQLite database", impl.execute)
}

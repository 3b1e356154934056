package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/leapstack-labs/datalens/internal/dataset"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// settingName matches DuckDB configuration option names.
var settingName = regexp.MustCompile(`^[a-z_]+$`)

// DuckDB reads files through DuckDB table functions.
type DuckDB struct {
	db     *sql.DB
	config Config
	logger *slog.Logger
}

// NewDuckDB creates a new DuckDB adapter instance. A nil logger discards output.
func NewDuckDB(logger *slog.Logger) *DuckDB {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DuckDB{logger: logger}
}

// Connect establishes a connection to DuckDB and applies the configured settings.
func (a *DuckDB) Connect(ctx context.Context, cfg Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	keys := make([]string, 0, len(cfg.Settings))
	for k := range cfg.Settings {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !settingName.MatchString(k) {
			_ = db.Close()
			return fmt.Errorf("invalid duckdb setting name %q", k)
		}
		stmt := fmt.Sprintf("SET %s = %s", k, quoteLiteral(cfg.Settings[k]))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply setting %s: %w", k, err)
		}
	}

	a.db = db
	a.config = cfg
	a.logger.Debug("duckdb connected", "path", path, "settings", len(keys))

	return nil
}

// Close closes the DuckDB connection.
func (a *DuckDB) Close() error {
	if a.db != nil {
		a.logger.Debug("closing duckdb connection")
		return a.db.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (a *DuckDB) Exec(ctx context.Context, sqlStr string) error {
	if a.db == nil {
		return fmt.Errorf("database connection not established")
	}

	_, err := a.db.ExecContext(ctx, sqlStr)
	if err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}

	return nil
}

// Query executes a SQL statement that returns rows.
func (a *DuckDB) Query(ctx context.Context, sqlStr string, args ...any) (*sql.Rows, error) {
	if a.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := a.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	return rows, nil
}

// Describe returns the columns of a relation, e.g. a table function call
// built by ReadCSV.
func (a *DuckDB) Describe(ctx context.Context, source string) ([]Column, error) {
	rows, err := a.Query(ctx, "DESCRIBE SELECT * FROM "+source)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []Column
	for rows.Next() {
		var name, typ string
		var null, key, def, extra sql.NullString
		if err := rows.Scan(&name, &typ, &null, &key, &def, &extra); err != nil {
			return nil, fmt.Errorf("failed to scan column description: %w", err)
		}
		columns = append(columns, Column{
			Name:     name,
			Type:     typ,
			Nullable: null.String != "NO",
			Position: len(columns),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column description: %w", err)
	}
	return columns, nil
}

// ReadDataset materializes a relation into a dataset. DuckDB types are mapped
// onto dataset types; types without a counterpart are read as text.
func (a *DuckDB) ReadDataset(ctx context.Context, source string) (*dataset.Dataset, error) {
	columns, err := a.Describe(ctx, source)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return dataset.New()
	}

	exprs := make([]string, len(columns))
	types := make([]dataset.DType, len(columns))
	for i, c := range columns {
		types[i] = ColumnType(c.Type)
		exprs[i] = selectExpr(c)
	}

	//nolint:gosec // column names are quoted, source is built by ReadCSV/ReadJSON/ReadParquet
	rows, err := a.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), source))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	values := make([][]any, len(columns))
	cells := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range cells {
		dest[i] = &cells[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row %d: %w", len(values[0]), err)
		}
		for i, v := range cells {
			values[i] = append(values[i], convertValue(v, types[i]))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	out := make([]*dataset.Column, len(columns))
	for i, c := range columns {
		if values[i] == nil {
			values[i] = []any{}
		}
		out[i] = &dataset.Column{Name: c.Name, Type: types[i], Values: values[i]}
	}
	a.logger.Debug("relation read", "columns", len(out), "rows", out[0].Len())
	return dataset.New(out...)
}

// ReadCSV returns a read_csv_auto call for a delimited text file with a header row.
func ReadCSV(path string, delim rune) string {
	return fmt.Sprintf("read_csv_auto(%s, header=true, delim=%s)", quoteLiteral(absPath(path)), quoteLiteral(string(delim)))
}

// ReadJSON returns a read_json_auto call for a record-oriented JSON file.
func ReadJSON(path string) string {
	return fmt.Sprintf("read_json_auto(%s)", quoteLiteral(absPath(path)))
}

// ReadParquet returns a read_parquet call.
func ReadParquet(path string) string {
	return fmt.Sprintf("read_parquet(%s)", quoteLiteral(absPath(path)))
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

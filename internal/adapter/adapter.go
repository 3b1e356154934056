// Package adapter wraps the embedded DuckDB engine that reads uploaded files
// into in-memory datasets.
package adapter

// Config holds the configuration for the DuckDB connection.
type Config struct {
	// Path is the database file. Use ":memory:" (or leave empty) for an
	// in-memory database; uploaded files are only read, never stored.
	Path string

	// Settings are applied at session level (e.g., threads, memory_limit).
	Settings map[string]string
}

// Column describes a column of a DuckDB relation.
type Column struct {
	// Name is the column name
	Name string

	// Type is the DuckDB type name (e.g., BIGINT, DECIMAL(18,3), VARCHAR)
	Type string

	// Nullable indicates whether the column allows NULL values
	Nullable bool

	// Position is the zero-based ordinal position of the column
	Position int
}

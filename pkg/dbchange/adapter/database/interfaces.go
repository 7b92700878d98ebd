// Package database defines the database boundary of the engines: a Session bound to one
// pinned connection, a Dialect producing vendor-specific SQL, and error classification.
package database

import (
	"context"
)

// Row is one result row keyed by column name.
type Row map[string]interface{}

// Column describes a table column.
type Column struct {
	Name string
	// PrimaryKey is the 1-based position of the column in the primary key, 0 when not part of it.
	PrimaryKey int
	Position   int
}

// Session executes statements on a single connection. Errors are classified (see Classify).
// Statements use ? placeholders on every dialect.
type Session interface {
	// Name is the configured connection name.
	Name() string
	Dialect() Dialect
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
	Query(ctx context.Context, query string, args ...interface{}) ([]Row, error)
	// Transaction runs fn inside a transaction, committing when fn returns nil.
	Transaction(ctx context.Context, fn func(tx Session) error) error
	HasTable(ctx context.Context, table string) (bool, error)
	// Columns returns the columns of table in ordinal order.
	Columns(ctx context.Context, table string) ([]Column, error)
}

// Provider hands out sessions for configured connections.
type Provider interface {
	// WithSession pins one connection of the named database for the duration of fn and releases it
	// on every return path.
	WithSession(ctx context.Context, name string, fn func(Session) error) error
	// CloseAll closes all pooled connections.
	CloseAll() error
}

// PrimaryKey returns the primary key column names of cols in key order.
func PrimaryKey(cols []Column) []string {
	max := 0
	for _, c := range cols {
		if c.PrimaryKey > max {
			max = c.PrimaryKey
		}
	}
	if max == 0 {
		return nil
	}
	keys := make([]string, max)
	for _, c := range cols {
		if c.PrimaryKey > 0 {
			keys[c.PrimaryKey-1] = c.Name
		}
	}
	out := keys[:0]
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// ColumnNames returns the names of cols.
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Use switches s to the named database or schema when the dialect supports it. An empty name is a no-op.
func Use(ctx context.Context, s Session, name string) error {
	if name == "" {
		return nil
	}
	stmt := s.Dialect().UseDatabase(name)
	if stmt == "" {
		return nil
	}
	_, err := s.Exec(ctx, stmt)
	return err
}

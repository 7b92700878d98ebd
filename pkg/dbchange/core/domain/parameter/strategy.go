// Package parameter defines the typed task parameters accepted at job submission.
// Every enumerated strategy is a closed string type; Valid reports membership and the
// engines switch over the constants exhaustively.
package parameter

import (
	"fmt"
	"strings"
)

// TaskErrorStrategy decides whether a failed unit of work stops the job.
type TaskErrorStrategy string

const (
	ErrorStrategyAbort    TaskErrorStrategy = "ABORT"
	ErrorStrategyContinue TaskErrorStrategy = "CONTINUE"
)

func (s TaskErrorStrategy) Valid() bool {
	return s == ErrorStrategyAbort || s == ErrorStrategyContinue
}

// SqlType is the statement kind an online schema change carries.
type SqlType string

const (
	SqlTypeCreate SqlType = "CREATE"
	SqlTypeAlter  SqlType = "ALTER"
)

func (s SqlType) Valid() bool {
	return s == SqlTypeCreate || s == SqlTypeAlter
}

// OriginTableCleanStrategy is the disposal policy for the pre-swap origin table.
type OriginTableCleanStrategy string

const (
	// OriginTableRenameAndReserved keeps the origin table under a reserved name.
	OriginTableRenameAndReserved OriginTableCleanStrategy = "ORIGIN_TABLE_RENAME_AND_RESERVED"
	// OriginTableDrop drops the origin table after a successful swap.
	OriginTableDrop OriginTableCleanStrategy = "ORIGIN_TABLE_DROP"
)

func (s OriginTableCleanStrategy) Valid() bool {
	return s == OriginTableRenameAndReserved || s == OriginTableDrop
}

// MigrationInsertAction is how a migration batch behaves on a target-side key conflict.
type MigrationInsertAction string

const (
	// InsertNormal fails the batch on a duplicate key.
	InsertNormal MigrationInsertAction = "INSERT_NORMAL"
	// InsertIgnore skips conflicting rows.
	InsertIgnore MigrationInsertAction = "INSERT_IGNORE"
	// Replace overwrites conflicting rows.
	Replace MigrationInsertAction = "REPLACE"
)

func (a MigrationInsertAction) Valid() bool {
	switch a {
	case InsertNormal, InsertIgnore, Replace:
		return true
	default:
		return false
	}
}

// normalize upper-cases an enum value read from user input.
func normalize[T ~string](v T) T {
	return T(strings.ToUpper(strings.TrimSpace(string(v))))
}

func enumError(field string, v any) error {
	return fmt.Errorf("%s has unsupported value %q", field, fmt.Sprint(v))
}

package database

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// InsertMode selects how an insert treats rows whose key already exists in the target.
type InsertMode int

const (
	// InsertModeNormal fails on a duplicate key.
	InsertModeNormal InsertMode = iota
	// InsertModeIgnore keeps the existing row.
	InsertModeIgnore
	// InsertModeReplace overwrites the existing row.
	InsertModeReplace
)

// Dialect produces the vendor-specific statements the engines need.
type Dialect interface {
	Name() string
	// Quote quotes an identifier. A dotted name is quoted part by part.
	Quote(ident string) string
	// UseDatabase returns the statement selecting the default database or schema, or "" when unsupported.
	UseDatabase(name string) string
	HasTableQuery(table string) (string, []interface{})
	// ColumnsQuery selects name, pk (1-based key position or 0) and pos for each column of table.
	ColumnsQuery(table string) (string, []interface{})
	// CreateTableLike creates target with the structure of source.
	CreateTableLike(ctx context.Context, s Session, source, target string) error
	// SwapTables atomically renames origin to reserved and shadow to origin.
	SwapTables(ctx context.Context, s Session, origin, shadow, reserved string) error
	DropTable(table string) string
	// Insert returns a multi-row insert of rows rows. keys is the primary key, used by upserts.
	Insert(table string, cols, keys []string, rows int, mode InsertMode) string
}

var (
	dialectRegistry = make(map[string]Dialect)
	dialectMutex    sync.RWMutex
)

// RegisterDialect makes d available under its name.
func RegisterDialect(d Dialect) {
	dialectMutex.Lock()
	defer dialectMutex.Unlock()
	dialectRegistry[d.Name()] = d
}

// LookupDialect returns the dialect registered for a database type.
func LookupDialect(name string) (Dialect, error) {
	dialectMutex.RLock()
	defer dialectMutex.RUnlock()
	if d, ok := dialectRegistry[strings.ToLower(name)]; ok {
		return d, nil
	}
	known := make([]string, 0, len(dialectRegistry))
	for k := range dialectRegistry {
		known = append(known, k)
	}
	sort.Strings(known)
	return nil, fmt.Errorf("no dialect registered for database type %q (known: %s)", name, strings.Join(known, ", "))
}

func init() {
	RegisterDialect(MySQL{})
	RegisterDialect(Postgres{})
	RegisterDialect(SQLite{})
}

func quoteWith(ident string, q string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		p = strings.Trim(p, "`\"")
		parts[i] = q + strings.ReplaceAll(p, q, q+q) + q
	}
	return strings.Join(parts, ".")
}

// BareName strips a schema qualifier and identifier quotes from a table name.
func BareName(table string) string {
	if i := strings.LastIndex(table, "."); i >= 0 {
		table = table[i+1:]
	}
	return strings.Trim(table, "`\"")
}

func quoteAll(d Dialect, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.Quote(n)
	}
	return out
}

func valuesClause(cols, rows int) string {
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	tuples := make([]string, rows)
	for i := range tuples {
		tuples[i] = tuple
	}
	return strings.Join(tuples, ", ")
}

func insertInto(d Dialect, verb, table string, cols []string, rows int) string {
	return fmt.Sprintf("%s %s (%s) VALUES %s", verb, d.Quote(table), strings.Join(quoteAll(d, cols), ", "), valuesClause(len(cols), rows))
}

// ToInt64 converts a scanned numeric value (driver-dependent type) to int64.
func ToInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", v)
	}
}

// ToString converts a scanned text value to string.
func ToString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}

// MySQL is the MySQL / MariaDB dialect.
type MySQL struct{}

// Name returns "mysql".
func (MySQL) Name() string { return "mysql" }

// Quote quotes ident with backticks.
func (MySQL) Quote(ident string) string { return quoteWith(ident, "`") }

// UseDatabase returns a USE statement.
func (d MySQL) UseDatabase(name string) string { return "USE " + d.Quote(name) }

// HasTableQuery counts tables named table in the current database.
func (MySQL) HasTableQuery(table string) (string, []interface{}) {
	return "SELECT COUNT(*) AS n FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?", []interface{}{BareName(table)}
}

// ColumnsQuery lists the columns of table with their primary key position.
func (MySQL) ColumnsQuery(table string) (string, []interface{}) {
	return "SELECT c.COLUMN_NAME AS name, COALESCE(k.ORDINAL_POSITION, 0) AS pk, c.ORDINAL_POSITION AS pos " +
		"FROM information_schema.COLUMNS c " +
		"LEFT JOIN information_schema.KEY_COLUMN_USAGE k ON k.TABLE_SCHEMA = c.TABLE_SCHEMA AND k.TABLE_NAME = c.TABLE_NAME " +
		"AND k.COLUMN_NAME = c.COLUMN_NAME AND k.CONSTRAINT_NAME = 'PRIMARY' " +
		"WHERE c.TABLE_SCHEMA = DATABASE() AND c.TABLE_NAME = ? ORDER BY c.ORDINAL_POSITION", []interface{}{BareName(table)}
}

// CreateTableLike runs CREATE TABLE ... LIKE.
func (d MySQL) CreateTableLike(ctx context.Context, s Session, source, target string) error {
	_, err := s.Exec(ctx, fmt.Sprintf("CREATE TABLE %s LIKE %s", d.Quote(target), d.Quote(source)))
	return err
}

// SwapTables uses a single RENAME TABLE, which MySQL applies atomically.
func (d MySQL) SwapTables(ctx context.Context, s Session, origin, shadow, reserved string) error {
	_, err := s.Exec(ctx, fmt.Sprintf("RENAME TABLE %s TO %s, %s TO %s", d.Quote(origin), d.Quote(reserved), d.Quote(shadow), d.Quote(origin)))
	return err
}

// DropTable returns a DROP TABLE IF EXISTS statement.
func (d MySQL) DropTable(table string) string { return "DROP TABLE IF EXISTS " + d.Quote(table) }

// Insert uses INSERT IGNORE for InsertModeIgnore and REPLACE for InsertModeReplace.
func (d MySQL) Insert(table string, cols, _ []string, rows int, mode InsertMode) string {
	verb := "INSERT INTO"
	switch mode {
	case InsertModeIgnore:
		verb = "INSERT IGNORE INTO"
	case InsertModeReplace:
		verb = "REPLACE INTO"
	}
	return insertInto(d, verb, table, cols, rows)
}

// Postgres is the PostgreSQL dialect.
type Postgres struct{}

// Name returns "postgres".
func (Postgres) Name() string { return "postgres" }

// Quote quotes ident with double quotes.
func (Postgres) Quote(ident string) string { return quoteWith(ident, `"`) }

// UseDatabase points search_path at the schema name.
func (d Postgres) UseDatabase(name string) string {
	return "SET search_path TO " + d.Quote(name)
}

// HasTableQuery counts tables named table in the current schema.
func (Postgres) HasTableQuery(table string) (string, []interface{}) {
	return "SELECT COUNT(*) AS n FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?", []interface{}{BareName(table)}
}

// ColumnsQuery lists the columns of table with their primary key position.
func (Postgres) ColumnsQuery(table string) (string, []interface{}) {
	return "SELECT c.column_name AS name, COALESCE(k.ordinal_position, 0) AS pk, c.ordinal_position AS pos " +
		"FROM information_schema.columns c " +
		"LEFT JOIN information_schema.table_constraints tc ON tc.table_schema = c.table_schema AND tc.table_name = c.table_name " +
		"AND tc.constraint_type = 'PRIMARY KEY' " +
		"LEFT JOIN information_schema.key_column_usage k ON k.constraint_name = tc.constraint_name AND k.table_schema = c.table_schema " +
		"AND k.table_name = c.table_name AND k.column_name = c.column_name " +
		"WHERE c.table_schema = current_schema() AND c.table_name = ? ORDER BY c.ordinal_position", []interface{}{BareName(table)}
}

// CreateTableLike copies the full table definition with LIKE ... INCLUDING ALL.
func (d Postgres) CreateTableLike(ctx context.Context, s Session, source, target string) error {
	_, err := s.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (LIKE %s INCLUDING ALL)", d.Quote(target), d.Quote(source)))
	return err
}

// SwapTables renames both tables inside one transaction; DDL is transactional in PostgreSQL.
func (d Postgres) SwapTables(ctx context.Context, s Session, origin, shadow, reserved string) error {
	return renameInTransaction(ctx, d, s, origin, shadow, reserved)
}

// DropTable returns a DROP TABLE IF EXISTS statement.
func (d Postgres) DropTable(table string) string { return "DROP TABLE IF EXISTS " + d.Quote(table) }

// Insert uses ON CONFLICT DO NOTHING for InsertModeIgnore and an ON CONFLICT upsert on keys for InsertModeReplace.
func (d Postgres) Insert(table string, cols, keys []string, rows int, mode InsertMode) string {
	stmt := insertInto(d, "INSERT INTO", table, cols, rows)
	switch mode {
	case InsertModeIgnore:
		return stmt + " ON CONFLICT DO NOTHING"
	case InsertModeReplace:
		return stmt + upsertSuffix(d, cols, keys)
	}
	return stmt
}

// SQLite is the SQLite dialect.
type SQLite struct{}

// Name returns "sqlite".
func (SQLite) Name() string { return "sqlite" }

// Quote quotes ident with double quotes.
func (SQLite) Quote(ident string) string { return quoteWith(ident, `"`) }

// UseDatabase returns "": a SQLite connection has a single database.
func (SQLite) UseDatabase(string) string { return "" }

// DropTable returns a DROP TABLE IF EXISTS statement.
func (d SQLite) DropTable(table string) string { return "DROP TABLE IF EXISTS " + d.Quote(table) }

// HasTableQuery counts tables named table in the current database.
func (SQLite) HasTableQuery(table string) (string, []interface{}) {
	return "SELECT COUNT(*) AS n FROM sqlite_master WHERE type = 'table' AND name = ?", []interface{}{BareName(table)}
}

// ColumnsQuery lists the columns of table with their primary key position.
func (SQLite) ColumnsQuery(table string) (string, []interface{}) {
	return "SELECT name, pk, cid AS pos FROM pragma_table_info(?) ORDER BY cid", []interface{}{BareName(table)}
}

// CreateTableLike replays the stored CREATE TABLE statement of source under the new name.
// Indexes are not copied.
func (d SQLite) CreateTableLike(ctx context.Context, s Session, source, target string) error {
	rows, err := s.Query(ctx, "SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", BareName(source))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("table %s does not exist", source)
	}
	ddl := ToString(rows[0]["sql"])
	open := strings.Index(ddl, "(")
	if open < 0 {
		return fmt.Errorf("unexpected definition of table %s: %q", source, ddl)
	}
	_, err = s.Exec(ctx, fmt.Sprintf("CREATE TABLE %s %s", d.Quote(target), ddl[open:]))
	return err
}

// SwapTables renames origin to reserved and shadow to origin inside one transaction.
func (d SQLite) SwapTables(ctx context.Context, s Session, origin, shadow, reserved string) error {
	return renameInTransaction(ctx, d, s, origin, shadow, reserved)
}

// Insert uses INSERT OR IGNORE and INSERT OR REPLACE.
func (d SQLite) Insert(table string, cols, keys []string, rows int, mode InsertMode) string {
	switch mode {
	case InsertModeIgnore:
		return insertInto(d, "INSERT OR IGNORE INTO", table, cols, rows)
	case InsertModeReplace:
		return insertInto(d, "INSERT OR REPLACE INTO", table, cols, rows)
	}
	return insertInto(d, "INSERT INTO", table, cols, rows)
}

func renameInTransaction(ctx context.Context, d Dialect, s Session, origin, shadow, reserved string) error {
	return s.Transaction(ctx, func(tx Session) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.Quote(origin), d.Quote(BareName(reserved)))); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.Quote(shadow), d.Quote(BareName(origin))))
		return err
	})
}

func upsertSuffix(d Dialect, cols, keys []string) string {
	if len(keys) == 0 {
		return " ON CONFLICT DO NOTHING"
	}
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	var sets []string
	for _, c := range cols {
		if !isKey[c] {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", d.Quote(c), d.Quote(c)))
		}
	}
	conflict := strings.Join(quoteAll(d, keys), ", ")
	if len(sets) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", conflict)
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", conflict, strings.Join(sets, ", "))
}

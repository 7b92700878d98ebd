// Package rowcopy reads, writes and deletes rows in primary-key order. The OSC sync phase and the
// archive engine both move data through it.
package rowcopy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
)

// maxParams keeps a single statement under the bind-variable limits of the supported dialects.
const maxParams = 30000

// Cursor holds the key values of the last row read. A nil Cursor starts from the beginning.
type Cursor []interface{}

// Keyset pages through a table in key order.
type Keyset struct {
	Table   string
	Columns []string
	Keys    []string
	// Condition is an optional SQL predicate without the WHERE keyword.
	Condition string
	// Until, when set, bounds the batch to keys up to and including it.
	Until     Cursor
	BatchSize int
}

// Query returns the statement reading the batch after cursor.
// A composite key (k1, k2) continues with (k1 > ?) OR (k1 = ? AND k2 > ?).
func (k Keyset) Query(d database.Dialect, after Cursor) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if c := strings.TrimSpace(k.Condition); c != "" {
		where = append(where, "("+c+")")
	}
	if len(after) == len(k.Keys) && len(after) > 0 {
		var ors []string
		for i := range k.Keys {
			var ands []string
			for j := 0; j < i; j++ {
				ands = append(ands, d.Quote(k.Keys[j])+" = ?")
				args = append(args, after[j])
			}
			ands = append(ands, d.Quote(k.Keys[i])+" > ?")
			args = append(args, after[i])
			ors = append(ors, "("+strings.Join(ands, " AND ")+")")
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}
	if len(k.Until) == len(k.Keys) && len(k.Until) > 0 {
		var ors []string
		last := len(k.Keys) - 1
		for i := range k.Keys {
			var ands []string
			for j := 0; j < i; j++ {
				ands = append(ands, d.Quote(k.Keys[j])+" = ?")
				args = append(args, k.Until[j])
			}
			op := " < ?"
			if i == last {
				op = " <= ?"
			}
			ands = append(ands, d.Quote(k.Keys[i])+op)
			args = append(args, k.Until[i])
			ors = append(ors, "("+strings.Join(ands, " AND ")+")")
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", quoteJoin(d, k.Columns), d.Quote(k.Table))
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY %s", quoteJoin(d, k.Keys))
	if k.BatchSize > 0 {
		fmt.Fprintf(&b, " LIMIT %d", k.BatchSize)
	}
	return b.String(), args
}

// Next reads the batch after cursor and returns the cursor of its last row.
// An empty batch returns the unchanged cursor.
func (k Keyset) Next(ctx context.Context, s database.Session, after Cursor) ([]database.Row, Cursor, error) {
	q, args := k.Query(s.Dialect(), after)
	rows, err := s.Query(ctx, q, args...)
	if err != nil {
		return nil, after, err
	}
	if len(rows) == 0 {
		return nil, after, nil
	}
	return rows, CursorOf(rows[len(rows)-1], k.Keys), nil
}

// CursorOf extracts the key values of row.
func CursorOf(row database.Row, keys []string) Cursor {
	c := make(Cursor, len(keys))
	for i, key := range keys {
		c[i] = row[key]
	}
	return c
}

// Delta is what a target table needs to match its source over one key range.
type Delta struct {
	// Upsert holds source rows missing from the target or differing from it.
	Upsert []database.Row
	// Remove holds target rows whose key is absent from the source.
	Remove []database.Row
}

// Len returns the number of rows to change.
func (d Delta) Len() int { return len(d.Upsert) + len(d.Remove) }

// Diff compares the source batch after cursor with the rows of target in the same key range,
// comparing rows by their digest over src.Columns. Once the source is exhausted it returns the
// target rows left past cursor, one batch at a time, for removal. done reports that both tables
// have been walked; otherwise the next call continues from the returned cursor.
func Diff(ctx context.Context, s database.Session, src Keyset, target string, after Cursor) (delta Delta, next Cursor, done bool, err error) {
	rows, next, err := src.Next(ctx, s, after)
	if err != nil {
		return Delta{}, after, false, err
	}
	dst := src
	dst.Table = target
	dst.Condition = ""
	if len(rows) == 0 {
		tail, tailNext, err := dst.Next(ctx, s, after)
		if err != nil {
			return Delta{}, after, false, err
		}
		return Delta{Remove: tail}, tailNext, len(tail) == 0, nil
	}

	dst.Until = next
	dst.BatchSize = 0
	existing, _, err := dst.Next(ctx, s, after)
	if err != nil {
		return Delta{}, after, false, err
	}
	have := make(map[string]uint64, len(existing))
	for _, r := range existing {
		have[keyOf(r, src.Keys)] = RowDigest(r, src.Columns)
	}
	for _, r := range rows {
		key := keyOf(r, src.Keys)
		sum, ok := have[key]
		if !ok || sum != RowDigest(r, src.Columns) {
			delta.Upsert = append(delta.Upsert, r)
		}
		delete(have, key)
	}
	for _, r := range existing {
		if _, stale := have[keyOf(r, src.Keys)]; stale {
			delta.Remove = append(delta.Remove, r)
		}
	}
	return delta, next, false, nil
}

func keyOf(row database.Row, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = normalize(row[k])
	}
	return strings.Join(parts, "\x00")
}

// Insert writes rows into table with one multi-row statement per chunk and returns the affected count.
func Insert(ctx context.Context, s database.Session, table string, cols, keys []string, rows []database.Row, mode database.InsertMode) (int64, error) {
	if len(rows) == 0 || len(cols) == 0 {
		return 0, nil
	}
	var total int64
	for _, chunk := range chunks(rows, len(cols)) {
		args := make([]interface{}, 0, len(chunk)*len(cols))
		for _, r := range chunk {
			for _, c := range cols {
				args = append(args, r[c])
			}
		}
		n, err := s.Exec(ctx, s.Dialect().Insert(table, cols, keys, len(chunk), mode), args...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Delete removes the rows of table identified by their key values.
func Delete(ctx context.Context, s database.Session, table string, keys []string, rows []database.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	d := s.Dialect()
	var total int64
	for _, chunk := range chunks(rows, len(keys)) {
		var (
			q    string
			args = make([]interface{}, 0, len(chunk)*len(keys))
		)
		if len(keys) == 1 {
			q = fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", d.Quote(table), d.Quote(keys[0]),
				strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", "))
			for _, r := range chunk {
				args = append(args, r[keys[0]])
			}
		} else {
			tuple := make([]string, len(keys))
			for i, k := range keys {
				tuple[i] = d.Quote(k) + " = ?"
			}
			match := "(" + strings.Join(tuple, " AND ") + ")"
			ors := make([]string, len(chunk))
			for i, r := range chunk {
				ors[i] = match
				for _, k := range keys {
					args = append(args, r[k])
				}
			}
			q = fmt.Sprintf("DELETE FROM %s WHERE %s", d.Quote(table), strings.Join(ors, " OR "))
		}
		n, err := s.Exec(ctx, q, args...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Count returns the number of rows of table matching condition (all rows when empty).
func Count(ctx context.Context, s database.Session, table, condition string) (int64, error) {
	q := "SELECT COUNT(*) AS n FROM " + s.Dialect().Quote(table)
	if c := strings.TrimSpace(condition); c != "" {
		q += " WHERE " + c
	}
	rows, err := s.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return database.ToInt64(rows[0]["n"])
}

// Checksum folds every row of the keyset into an order-independent digest over k.Columns.
func Checksum(ctx context.Context, s database.Session, k Keyset) (uint64, int64, error) {
	var (
		sum   uint64
		count int64
		after Cursor
	)
	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		rows, next, err := k.Next(ctx, s, after)
		if err != nil {
			return 0, 0, err
		}
		if len(rows) == 0 {
			return sum, count, nil
		}
		for _, r := range rows {
			sum += RowDigest(r, k.Columns)
			count++
		}
		after = next
	}
}

// RowDigest hashes the values of cols in row.
func RowDigest(row database.Row, cols []string) uint64 {
	d := xxhash.New()
	for _, c := range cols {
		_, _ = d.WriteString(normalize(row[c]))
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

// RowSize approximates the encoded size of row in bytes, used for data-size rate limits.
func RowSize(row database.Row, cols []string) int64 {
	var n int64
	for _, c := range cols {
		switch v := row[c].(type) {
		case nil:
		case []byte:
			n += int64(len(v))
		case string:
			n += int64(len(v))
		case time.Time:
			n += 8
		case bool:
			n++
		default:
			n += 8
		}
	}
	return n
}

// CommonColumns returns the names present in both column lists, in the order of from.
func CommonColumns(from, to []database.Column) []string {
	present := make(map[string]bool, len(to))
	for _, c := range to {
		present[strings.ToLower(c.Name)] = true
	}
	var out []string
	for _, c := range from {
		if present[strings.ToLower(c.Name)] {
			out = append(out, c.Name)
		}
	}
	return out
}

func normalize(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "\x00NULL"
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return database.ToString(v)
	}
}

func quoteJoin(d database.Dialect, names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = d.Quote(n)
	}
	return strings.Join(q, ", ")
}

func chunks(rows []database.Row, width int) [][]database.Row {
	if width < 1 {
		width = 1
	}
	size := maxParams / width
	if size < 1 {
		size = 1
	}
	var out [][]database.Row
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}

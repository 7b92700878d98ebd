package gorm

import (
	"context"

	"gorm.io/gorm"

	"github.com/tigerroll/undertow/pkg/dbchange/adapter/database"
)

// session is a database.Session over a *gorm.DB pinned to one connection (or transaction).
type session struct {
	name    string
	dialect database.Dialect
	db      *gorm.DB
}

// NewSession wraps db. It is meant for callers that already own a dedicated connection.
func NewSession(name string, dialect database.Dialect, db *gorm.DB) database.Session {
	return &session{name: name, dialect: dialect, db: db}
}

func (s *session) Name() string { return s.name }
func (s *session) Dialect() database.Dialect { return s.dialect }

func (s *session) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res := s.db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return 0, database.Classify(res.Error)
	}
	return res.RowsAffected, nil
}

func (s *session) Query(ctx context.Context, query string, args ...interface{}) ([]database.Row, error) {
	rows, err := s.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, database.Classify(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, database.Classify(err)
	}
	var out []database.Row
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, database.Classify(err)
		}
		row := make(database.Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, database.Classify(rows.Err())
}

func (s *session) Transaction(ctx context.Context, fn func(tx database.Session) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&session{name: s.name, dialect: s.dialect, db: tx})
	})
	return database.Classify(err)
}

func (s *session) HasTable(ctx context.Context, table string) (bool, error) {
	q, args := s.dialect.HasTableQuery(table)
	rows, err := s.Query(ctx, q, args...)
	if err != nil || len(rows) == 0 {
		return false, err
	}
	n, err := database.ToInt64(rows[0]["n"])
	if err != nil {
		return false, database.Classify(err)
	}
	return n > 0, nil
}

func (s *session) Columns(ctx context.Context, table string) ([]database.Column, error) {
	q, args := s.dialect.ColumnsQuery(table)
	rows, err := s.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	cols := make([]database.Column, 0, len(rows))
	for _, r := range rows {
		pk, err := database.ToInt64(r["pk"])
		if err != nil {
			return nil, database.Classify(err)
		}
		pos, err := database.ToInt64(r["pos"])
		if err != nil {
			return nil, database.Classify(err)
		}
		cols = append(cols, database.Column{Name: database.ToString(r["name"]), PrimaryKey: int(pk), Position: int(pos)})
	}
	return cols, nil
}

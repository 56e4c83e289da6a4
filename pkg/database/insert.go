package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes inspected by callers.
const (
	codeUndefinedColumn = "42703"
	codeUniqueViolation = "23505"
)

// Row is an ordered column/value list for a single-row insert.
type Row struct {
	cols []string
	vals []any
}

// Set appends or replaces a column value.
func (r *Row) Set(col string, v any) *Row {
	for i, c := range r.cols {
		if c == col {
			r.vals[i] = v
			return r
		}
	}
	r.cols = append(r.cols, col)
	r.vals = append(r.vals, v)
	return r
}

// Clone returns an independent copy of r.
func (r Row) Clone() Row {
	return Row{cols: append([]string(nil), r.cols...), vals: append([]any(nil), r.vals...)}
}

// Columns returns the column names in insertion order.
func (r Row) Columns() []string { return append([]string(nil), r.cols...) }

// Has reports whether col is present.
func (r Row) Has(col string) bool {
	for _, c := range r.cols {
		if c == col {
			return true
		}
	}
	return false
}

// Value returns the value stored for col, or nil.
func (r Row) Value(col string) any {
	for i, c := range r.cols {
		if c == col {
			return r.vals[i]
		}
	}
	return nil
}

// InsertSQL builds "INSERT INTO table (...) VALUES ($1...) RETURNING id, created_at".
func InsertSQL(table string, row Row) (string, []any) {
	placeholders := make([]string, len(row.cols))
	for i := range row.cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id, created_at",
		table, strings.Join(row.cols, ", "), strings.Join(placeholders, ", "))
	return q, append([]any(nil), row.vals...)
}

// Inserter writes one row and returns its generated id and creation time.
type Inserter interface {
	InsertRow(ctx context.Context, table string, row Row) (uuid.UUID, time.Time, error)
}

// PoolInserter implements Inserter on a pgx pool.
type PoolInserter struct {
	DB DB
}

// InsertRow executes the insert built by InsertSQL.
func (p PoolInserter) InsertRow(ctx context.Context, table string, row Row) (uuid.UUID, time.Time, error) {
	q, args := InsertSQL(table, row)
	var id uuid.UUID
	var createdAt time.Time
	if err := p.DB.QueryRow(ctx, q, args...).Scan(&id, &createdAt); err != nil {
		return uuid.Nil, time.Time{}, fmt.Errorf("insert %s: %w", table, err)
	}
	return id, createdAt, nil
}

// IsUndefinedColumn reports whether err is a Postgres "column does not exist" error.
func IsUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUndefinedColumn
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/orgdash/dashboard-worker/internal/domain"
)

// Postgres error codes for objects that have not been created yet.
const (
	codeUndefinedTable    = "42P01"
	codeUndefinedFunction = "42883"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// orEmpty returns items unchanged if non-nil, or an empty slice if nil.
// Useful to ensure JSON serialization produces [] instead of null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// isUndefined reports whether err is a missing table, view or function.
func isUndefined(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeUndefinedTable || pgErr.Code == codeUndefinedFunction
	}
	return false
}

// wrapErr wraps err with msg, mapping missing objects to domain.ErrNotProvisioned.
func wrapErr(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if isUndefined(err) {
		return fmt.Errorf("%s: %w: %w", msg, domain.ErrNotProvisioned, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// filter accumulates WHERE conditions with positional arguments.
type filter struct {
	conds []string
	args  []any
}

// add appends cond, replacing each ? with the next positional placeholder.
func (f *filter) add(cond string, args ...any) {
	for _, a := range args {
		f.args = append(f.args, a)
		cond = strings.Replace(cond, "?", "$"+strconv.Itoa(len(f.args)), 1)
	}
	f.conds = append(f.conds, cond)
}

// where renders the WHERE clause, or "" with no conditions.
func (f *filter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

// next returns the placeholder for an argument appended after the filter's.
func (f *filter) next(arg any) string {
	f.args = append(f.args, arg)
	return "$" + strconv.Itoa(len(f.args))
}

// orderBy renders an ORDER BY clause from a whitelisted column map. The id
// column is always appended so paging is stable.
func orderBy(columns map[string]string, sort, dir string) string {
	col, ok := columns[sort]
	if !ok {
		col = columns["name"]
	}
	d := "ASC"
	if strings.EqualFold(dir, "desc") {
		d = "DESC"
	}
	return " ORDER BY " + col + " " + d + " NULLS LAST, id ASC"
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type fakeResult struct{}

var errTest = errors.New("test error")

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			*d = r.values[i].(string)
		case *[]byte:
			*d = r.values[i].([]byte)
		case *time.Time:
			*d = r.values[i].(time.Time)
		case *sql.NullTime:
			*d = r.values[i].(sql.NullTime)
		case *sql.NullString:
			*d = r.values[i].(sql.NullString)
		case *bool:
			*d = r.values[i].(bool)
		case *int:
			*d = r.values[i].(int)
		case *int64:
			*d = r.values[i].(int64)
		default:
			// ignore unsupported
		}
	}
	return nil
}

type fakeConn struct {
	row           rowScanner
	rows          []rowScanner
	rowCalls      int
	execErr       error
	execErrs      []error
	execCalls     int
	lastQuery     string
	lastArgs      []any
	lastExecQuery string
	lastExecArgs  []any
	execQueries   []string
	execArgs      [][]any
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.lastExecQuery = query
	c.lastExecArgs = args
	c.execQueries = append(c.execQueries, query)
	c.execArgs = append(c.execArgs, args)
	c.execCalls++
	if idx := c.execCalls - 1; idx >= 0 && idx < len(c.execErrs) {
		if err := c.execErrs[idx]; err != nil {
			return fakeResult{}, err
		}
	}
	if c.execErr != nil {
		return fakeResult{}, c.execErr
	}
	return fakeResult{}, nil
}

func (c *fakeConn) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	c.lastQuery = query
	c.lastArgs = args
	if len(c.rows) > 0 {
		row := c.rows[0]
		if len(c.rows) > 1 {
			c.rows = c.rows[1:]
		}
		c.rowCalls++
		return row
	}
	c.rowCalls++
	return c.row
}

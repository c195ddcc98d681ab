package postgres

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type sqlCall struct {
	sql  string
	args []any
}

// fakeRow scans fixed values into the destinations by assignment.
type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(r.vals))
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.vals[i]))
	}
	return nil
}

type fakeDB struct {
	execs   []sqlCall
	execErr error
	queries []sqlCall
	row     fakeRow
	tx      *fakeTx
	begins  int
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sqlCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.queries = append(f.queries, sqlCall{sql: sql, args: args})
	return f.row
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	f.begins++
	if f.tx == nil {
		f.tx = &fakeTx{}
	}
	return f.tx, nil
}

// fakeTx records statements; any statement containing failOn errors.
type fakeTx struct {
	pgx.Tx

	execs      []sqlCall
	failOn     string
	committed  int
	rolledBack int
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, sqlCall{sql: sql, args: args})
	if t.failOn != "" && strings.Contains(sql, t.failOn) {
		return pgconn.CommandTag{}, fmt.Errorf("relation %q is locked", t.failOn)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed++
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack++
	return nil
}

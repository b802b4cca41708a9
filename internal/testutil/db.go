// Package testutil provides shared test doubles for store tests.
package testutil

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Script declares the canned outcome for SQL statements that contain
// Contains after whitespace normalization. The first matching script wins.
type Script struct {
	Contains string
	Rows     [][]any // result rows; empty means pgx.ErrNoRows for QueryRow
	Affected int64   // rows affected reported for Exec
	Err      error
}

// Call records one statement issued against the fake.
type Call struct {
	SQL  string
	Args []any
}

// FakeDB is a scripted double for the consumer-side DB interfaces of the
// pgx-backed stores. Safe for concurrent use.
type FakeDB struct {
	mu      sync.Mutex
	scripts []Script
	calls   []Call

	committed  int
	rolledBack int

	// ExecHook, when set, runs before each Exec completes. Used to hold
	// a statement open while a test lines up concurrent callers.
	ExecHook func(sql string)
}

// NewFakeDB creates a fake that answers from the given scripts.
func NewFakeDB(scripts ...Script) *FakeDB {
	return &FakeDB{scripts: scripts}
}

// normalize collapses whitespace so scripts match multi-line SQL.
func normalize(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

func (f *FakeDB) record(sql string, args []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{SQL: normalize(sql), Args: args})
}

func (f *FakeDB) lookup(sql string) (Script, bool) {
	norm := normalize(sql)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.scripts {
		if strings.Contains(norm, normalize(s.Contains)) {
			return s, true
		}
	}
	return Script{}, false
}

// Calls returns a copy of the recorded statements.
func (f *FakeDB) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsMatching counts recorded statements containing the fragment.
func (f *FakeDB) CallsMatching(fragment string) int {
	frag := normalize(fragment)
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c.SQL, frag) {
			n++
		}
	}
	return n
}

// Committed reports how many transactions committed.
func (f *FakeDB) Committed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committed
}

// RolledBack reports how many transactions rolled back without committing.
func (f *FakeDB) RolledBack() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rolledBack
}

func (f *FakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.record(sql, args)
	if f.ExecHook != nil {
		f.ExecHook(normalize(sql))
	}
	s, ok := f.lookup(sql)
	if !ok {
		return pgconn.CommandTag{}, fmt.Errorf("unscripted exec: %s", normalize(sql))
	}
	if s.Err != nil {
		return pgconn.CommandTag{}, s.Err
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", s.Affected)), nil
}

func (f *FakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.record(sql, args)
	s, ok := f.lookup(sql)
	if !ok {
		return nil, fmt.Errorf("unscripted query: %s", normalize(sql))
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return &fakeRows{rows: s.Rows}, nil
}

func (f *FakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.record(sql, args)
	s, ok := f.lookup(sql)
	if !ok {
		return fakeRow{err: fmt.Errorf("unscripted query: %s", normalize(sql))}
	}
	if s.Err != nil {
		return fakeRow{err: s.Err}
	}
	if len(s.Rows) == 0 {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{vals: s.Rows[0]}
}

func (f *FakeDB) Begin(_ context.Context) (pgx.Tx, error) {
	return &fakeTx{db: f}, nil
}

// scanInto assigns canned values to Scan destinations.
func scanInto(dest []any, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(vals))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		sv := reflect.ValueOf(vals[i])
		if !sv.Type().AssignableTo(dv.Elem().Type()) {
			return fmt.Errorf("scan: cannot assign %T to %s", vals[i], dv.Elem().Type())
		}
		dv.Elem().Set(sv)
	}
	return nil
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(dest, r.vals)
}

type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return scanInto(dest, r.rows[r.idx-1])
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.idx-1], nil
}

// fakeTx delegates statements to the FakeDB and tracks the outcome.
// The unused parts of the pgx.Tx surface panic on touch so a store that
// starts using them fails loudly in tests.
type fakeTx struct {
	db   *FakeDB
	done bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *fakeTx) Commit(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.done = true
	t.db.committed++
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if !t.done {
		t.done = true
		t.db.rolledBack++
	}
	return nil
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	panic("testutil: nested transactions are not scripted")
}

func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("testutil: CopyFrom is not scripted")
}

func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("testutil: SendBatch is not scripted")
}

func (t *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("testutil: LargeObjects is not scripted")
}

func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("testutil: Prepare is not scripted")
}

func (t *fakeTx) Conn() *pgx.Conn { return nil }

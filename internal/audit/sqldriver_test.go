package audit

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// scriptedDriver is a database/sql driver that replays an expected sequence
// of statements. Every Exec, Query, Begin, Commit and Rollback must match the
// next scripted step.
type scriptedDriver struct {
	mu    sync.Mutex
	steps []step
	pos   int
}

type stepKind string

const (
	kindExec     stepKind = "exec"
	kindQuery    stepKind = "query"
	kindBegin    stepKind = "begin"
	kindCommit   stepKind = "commit"
	kindRollback stepKind = "rollback"
)

type step struct {
	kind    stepKind
	query   string
	rows    fakeRows
	err     error
	gotArgs []driver.NamedValue
}

type fakeRows struct {
	columns []string
	values  [][]driver.Value
}

var driverSeq atomic.Int32

func newScriptedDB(t *testing.T, steps ...step) (*sql.DB, *scriptedDriver) {
	t.Helper()
	drv := &scriptedDriver{steps: steps}
	name := fmt.Sprintf("scripted-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open scripted db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db, drv
}

func execStep(query string) step { return step{kind: kindExec, query: query} }

func queryStep(query string, rows fakeRows) step {
	return step{kind: kindQuery, query: query, rows: rows}
}

func beginStep() step    { return step{kind: kindBegin} }
func commitStep() step   { return step{kind: kindCommit} }
func rollbackStep() step { return step{kind: kindRollback} }

func (d *scriptedDriver) assertDone(t *testing.T) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos != len(d.steps) {
		t.Fatalf("not all statements ran: %d/%d", d.pos, len(d.steps))
	}
}

func (d *scriptedDriver) args(i int) []driver.NamedValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.steps[i].gotArgs
}

func (d *scriptedDriver) advance(kind stepKind, query string, args []driver.NamedValue) (*step, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos >= len(d.steps) {
		return nil, fmt.Errorf("unexpected %s %q", kind, query)
	}
	s := &d.steps[d.pos]
	if s.kind != kind {
		return nil, fmt.Errorf("expected %s, got %s", s.kind, kind)
	}
	if s.query != "" && squash(s.query) != squash(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", squash(s.query), squash(query))
	}
	d.pos++
	s.gotArgs = args
	return s, s.err
}

func (d *scriptedDriver) Open(string) (driver.Conn, error) {
	return &scriptedConn{drv: d}, nil
}

type scriptedConn struct{ drv *scriptedDriver }

func (c *scriptedConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *scriptedConn) Close() error { return nil }

func (c *scriptedConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *scriptedConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if _, err := c.drv.advance(kindBegin, "", nil); err != nil {
		return nil, err
	}
	return &scriptedTx{drv: c.drv}, nil
}

func (c *scriptedConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if _, err := c.drv.advance(kindExec, query, args); err != nil {
		return nil, err
	}
	return driver.RowsAffected(1), nil
}

func (c *scriptedConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	s, err := c.drv.advance(kindQuery, query, args)
	if err != nil {
		return nil, err
	}
	return &scriptedRows{data: s.rows}, nil
}

func (c *scriptedConn) Ping(context.Context) error { return nil }

type scriptedTx struct{ drv *scriptedDriver }

func (t *scriptedTx) Commit() error {
	_, err := t.drv.advance(kindCommit, "", nil)
	return err
}

func (t *scriptedTx) Rollback() error {
	_, err := t.drv.advance(kindRollback, "", nil)
	return err
}

type scriptedRows struct {
	data fakeRows
	idx  int
}

func (r *scriptedRows) Columns() []string { return r.data.columns }
func (r *scriptedRows) Close() error      { return nil }

func (r *scriptedRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.data.values) {
		return io.EOF
	}
	copy(dest, r.data.values[r.idx])
	r.idx++
	return nil
}

func squash(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

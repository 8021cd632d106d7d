// Package testutil provides a database/sql driver that fakes the postgres
// state table: one JSONB payload per snapshot bucket.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq atomic.Int64

// StubConn holds the committed state buckets. Writes issued inside a
// transaction become visible only when it commits.
type StubConn struct {
	mu      sync.Mutex
	buckets map[string][]byte
	staged  map[string][]byte
	inTx    bool

	// DDL records schema statements in the order they ran.
	DDL []string
	// Commits counts successful transaction commits.
	Commits int

	FailPing    bool
	FailBegin   bool
	FailCommit  bool
	FailQuery   bool
	FailBuckets map[string]bool
}

// NewStubDB registers a uniquely named driver and opens a sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{buckets: make(map[string][]byte)}
	name := fmt.Sprintf("stubpg%d", driverSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Bucket returns the committed payload of one bucket.
func (c *StubConn) Bucket(name string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.buckets[name]
	return payload, ok
}

// BucketNames lists the committed buckets in name order.
func (c *StubConn) BucketNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.buckets))
	for name := range c.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeBucket unmarshals a committed payload into v.
func (c *StubConn) DecodeBucket(name string, v any) error {
	payload, ok := c.Bucket(name)
	if !ok {
		return fmt.Errorf("bucket %s not written", name)
	}
	return json.Unmarshal(payload, v)
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *StubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("stub: prepare not supported: %s", query)
}

func (c *StubConn) Close() error { return nil }

func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("ping fail")
	}
	return nil
}

func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, errors.New("begin fail")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx = true
	c.staged = make(map[string][]byte)
	return stubTx{conn: c}, nil
}

func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	normalized := strings.ToUpper(strings.Join(strings.Fields(query), " "))
	switch {
	case strings.HasPrefix(normalized, "CREATE TABLE"):
		c.mu.Lock()
		c.DDL = append(c.DDL, query)
		c.mu.Unlock()
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(normalized, "INSERT INTO STATE(BUCKET,PAYLOAD)") && strings.Contains(normalized, "ON CONFLICT(BUCKET) DO UPDATE"):
		return c.upsert(args)
	default:
		return nil, fmt.Errorf("stub: unsupported statement: %s", query)
	}
}

func (c *StubConn) upsert(args []driver.NamedValue) (driver.Result, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("stub: upsert wants 2 args, got %d", len(args))
	}
	bucket, ok := args[0].Value.(string)
	if !ok {
		return nil, fmt.Errorf("stub: bucket must be a string, got %T", args[0].Value)
	}
	payload, ok := args[1].Value.([]byte)
	if !ok || !json.Valid(payload) {
		return nil, fmt.Errorf("stub: payload of %s is not JSON", bucket)
	}
	if c.FailBuckets[bucket] {
		return nil, fmt.Errorf("upsert fail for %s", bucket)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inTx {
		c.staged[bucket] = append([]byte(nil), payload...)
	} else {
		c.buckets[bucket] = append([]byte(nil), payload...)
	}
	return driver.RowsAffected(1), nil
}

func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	normalized := strings.ToUpper(strings.Join(strings.Fields(query), " "))
	if normalized != "SELECT BUCKET, PAYLOAD FROM STATE" {
		return nil, fmt.Errorf("stub: unsupported query: %s", query)
	}
	if c.FailQuery {
		return nil, errors.New("query fail")
	}
	rows := &stubRows{}
	for _, name := range c.BucketNames() {
		payload, _ := c.Bucket(name)
		rows.rows = append(rows.rows, []driver.Value{name, payload})
	}
	return rows, nil
}

type stubTx struct {
	conn *StubConn
}

func (t stubTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	staged := c.staged
	c.inTx, c.staged = false, nil
	if c.FailCommit {
		return errors.New("commit fail")
	}
	for bucket, payload := range staged {
		c.buckets[bucket] = payload
	}
	c.Commits++
	return nil
}

func (t stubTx) Rollback() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx, c.staged = false, nil
	return nil
}

type stubRows struct {
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

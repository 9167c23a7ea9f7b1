package testutils

import (
	"context"
	"database/sql"
	"errors"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/session"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/session/result"
)

type Query struct {
	SQL    string
	Params []any
}

// NewDbSessionStub returns a session that records every statement. Each
// Query or QueryRow call consumes the next of rows; once they run out an
// empty result is returned.
func NewDbSessionStub(rows ...*RowsStub) *DbSessionStub {
	stub := &DbSessionStub{rows: rows}
	stub.conn = &connectionStub{session: stub}
	return stub
}

type DbSessionStub struct {
	ActualQuery  string
	ActualParams []any
	Queries      []Query
	Transactions int
	ExecErr      error
	rows         []*RowsStub
	conn         *connectionStub
}

func (s *DbSessionStub) Context() context.Context {
	return context.Background()
}

func (s *DbSessionStub) Atomic(callback session.SessionCallback) error {
	s.Transactions++
	return callback(s)
}

func (s *DbSessionStub) Connection() session.DbConnection {
	return s.conn
}

// Statements returns the recorded SQL texts in order.
func (s *DbSessionStub) Statements() []string {
	statements := make([]string, 0, len(s.Queries))
	for _, q := range s.Queries {
		statements = append(statements, q.SQL)
	}
	return statements
}

func (s *DbSessionStub) record(query string, args []any) {
	s.ActualQuery = query
	s.ActualParams = args
	s.Queries = append(s.Queries, Query{SQL: query, Params: args})
}

func (s *DbSessionStub) nextRows() *RowsStub {
	if len(s.rows) == 0 {
		return NewRowsStub()
	}
	r := s.rows[0]
	s.rows = s.rows[1:]
	return r
}

// Session implements session.SessionPool over the stub itself.
func (s *DbSessionStub) Session(ctx context.Context, callback session.SessionPoolCallback) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return callback(s)
}

func (s *DbSessionStub) Close() error {
	return nil
}

type connectionStub struct {
	session *DbSessionStub
}

func (c *connectionStub) Exec(query string, args ...any) (session.Result, error) {
	c.session.record(query, args)
	if c.session.ExecErr != nil {
		return nil, c.session.ExecErr
	}
	return result.NewResult(0), nil
}

func (c *connectionStub) Query(query string, args ...any) (session.Rows, error) {
	c.session.record(query, args)
	return c.session.nextRows(), nil
}

func (c *connectionStub) QueryRow(query string, args ...any) session.Row {
	c.session.record(query, args)
	rows := c.session.nextRows()
	return &RowStub{rows: rows}
}

func NewRowsStub(rows ...[]any) *RowsStub {
	return &RowsStub{
		rows:   rows,
		idx:    -1,
		Closed: false,
	}
}

type RowsStub struct {
	rows   [][]any
	idx    int
	Closed bool
}

func (r *RowsStub) Close() error {
	r.Closed = true
	return nil
}

func (r *RowsStub) Err() error {
	return nil
}

func (r *RowsStub) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *RowsStub) Scan(dest ...any) error {
	if r.idx < 0 || r.idx >= len(r.rows) {
		return errors.New("no current row")
	}

	row := r.rows[r.idx]
	for i, val := range row {
		if i >= len(dest) {
			break
		}

		switch d := dest[i].(type) {
		case *int:
			*d = toInt(val)
		case *int64:
			*d = toInt64(val)
		case *string:
			*d = val.(string)
		case *bool:
			*d = val.(bool)
		case *[]byte:
			switch v := val.(type) {
			case nil:
				*d = nil
			case string:
				*d = []byte(v)
			default:
				*d = v.([]byte)
			}
		case *float64:
			*d = toFloat64(val)
		case *any:
			*d = val
		case sql.Scanner:
			if err := d.Scan(val); err != nil {
				return err
			}
		default:
			return errors.New("unsupported scan type")
		}
	}
	return nil
}

func toInt(val any) int {
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		panic("cannot convert to int")
	}
}

func toInt64(val any) int64 {
	switch v := val.(type) {
	case int:
		return int64(v)
	case int64:
		return v
	default:
		panic("cannot convert to int64")
	}
}

func toFloat64(val any) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		panic("cannot convert to float64")
	}
}

type RowStub struct {
	rows *RowsStub
}

func (r *RowStub) Scan(dest ...any) error {
	if !r.rows.Next() {
		return sql.ErrNoRows
	}
	return r.rows.Scan(dest...)
}

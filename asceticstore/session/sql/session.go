// Package sql runs sessions over database/sql, which is how the SQLite
// driver is reached.
package sql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/session"
)

// Session represents a database session without transaction
type Session struct {
	ctx context.Context
	db  *sql.DB
}

func NewSession(ctx context.Context, db *sql.DB) *Session {
	return &Session{ctx: ctx, db: db}
}

func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Connection() session.DbConnection {
	return &connection{ctx: s.ctx, exec: s.db}
}

func (s *Session) Atomic(callback session.SessionCallback) error {
	tx, err := s.db.BeginTx(s.ctx, nil)
	if err != nil {
		return errors.Wrap(err, "unable to start transaction")
	}

	txSession := &TransactionSession{ctx: s.ctx, tx: tx}

	err = callback(txSession)
	if err != nil {
		if txErr := tx.Rollback(); txErr != nil {
			return multierror.Append(err, txErr)
		}
		return err
	}

	if txErr := tx.Commit(); txErr != nil {
		return errors.Wrap(txErr, "failed to commit transaction")
	}

	return nil
}

// TransactionSession represents a session inside transaction. Nested Atomic
// calls use savepoints.
type TransactionSession struct {
	ctx   context.Context
	tx    *sql.Tx
	depth int
}

func (s *TransactionSession) Context() context.Context {
	return s.ctx
}

func (s *TransactionSession) Connection() session.DbConnection {
	return &connection{ctx: s.ctx, exec: s.tx}
}

func (s *TransactionSession) Atomic(callback session.SessionCallback) error {
	name := fmt.Sprintf("sp_%d", s.depth+1)
	if _, err := s.tx.ExecContext(s.ctx, "SAVEPOINT "+name); err != nil {
		return errors.Wrap(err, "unable to start savepoint")
	}

	nested := &TransactionSession{ctx: s.ctx, tx: s.tx, depth: s.depth + 1}

	err := callback(nested)
	if err != nil {
		if _, txErr := s.tx.ExecContext(s.ctx, "ROLLBACK TO SAVEPOINT "+name); txErr != nil {
			return multierror.Append(err, txErr)
		}
		return err
	}

	if _, txErr := s.tx.ExecContext(s.ctx, "RELEASE SAVEPOINT "+name); txErr != nil {
		return errors.Wrap(txErr, "failed to release savepoint")
	}

	return nil
}

// executor interface for both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// connection implements session.DbConnection
type connection struct {
	ctx  context.Context
	exec executor
}

func (c *connection) Exec(query string, args ...any) (session.Result, error) {
	return c.exec.ExecContext(c.ctx, query, args...)
}

func (c *connection) Query(query string, args ...any) (session.Rows, error) {
	return c.exec.QueryContext(c.ctx, query, args...)
}

func (c *connection) QueryRow(query string, args ...any) session.Row {
	return c.exec.QueryRowContext(c.ctx, query, args...)
}

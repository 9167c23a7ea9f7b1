// Package session abstracts the database connection a SQL engine runs on.
// Engines receive a SessionPool and never see the driver.
package session

import (
	"context"
)

type SessionCallback func(Session) error

// Session is one unit of work against the database. Atomic runs callback in
// a transaction, nested calls in a savepoint; an error from callback rolls
// back.
type Session interface {
	Context() context.Context
	Atomic(SessionCallback) error
}

type SessionPoolCallback func(Session) error

// SessionPool hands out sessions bound to ctx for the duration of the
// callback.
type SessionPool interface {
	Session(ctx context.Context, callback SessionPoolCallback) error
	Close() error
}

type Result interface {
	RowsAffected() (int64, error)
}

type Rows interface {
	Close() error
	Err() error
	Next() bool
	Scan(dest ...any) error
}

type Row interface {
	Scan(dest ...any) error
}

// DbConnection runs statements with the session context. Placeholders are
// the driver's own, the engine's dialect renders them.
type DbConnection interface {
	Exec(query string, args ...any) (Result, error)
	Query(query string, args ...any) (Rows, error)
	QueryRow(query string, args ...any) Row
}

// DbSession is a Session backed by a SQL connection.
type DbSession interface {
	Session
	Connection() DbConnection
}

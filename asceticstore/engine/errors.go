package engine

import (
	"github.com/pkg/errors"
)

var (
	ErrQuery = errors.New("engine: query error")
	ErrStore = errors.New("engine: store error")
)

// Error tags a cause with one of the error kinds so that callers can match
// the kind with errors.Is and still reach the cause.
type Error struct {
	Kind  error
	Cause error
}

func (e *Error) Error() string {
	return e.Kind.Error() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Cause}
}

// QueryError marks err as caused by a predicate the engine cannot satisfy.
func QueryError(err error) error {
	return wrapKind(ErrQuery, err)
}

// StoreError marks err as an I/O or storage failure.
func StoreError(err error) error {
	return wrapKind(ErrStore, err)
}

func wrapKind(kind, err error) error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}
	return &Error{Kind: kind, Cause: err}
}

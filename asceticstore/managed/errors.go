package managed

import "errors"

var (
	// ErrSelectivityViolation means FetchOrCreate matched more than one
	// record. It is a programming error; with assertions enabled it panics.
	ErrSelectivityViolation = errors.New("managed: predicate matched more than one record")
	ErrObjectNotFound       = errors.New("managed: object not found")
	ErrContextClosed        = errors.New("managed: context is closed")
	ErrUnboundRecord        = errors.New("managed: record is not bound to an object")
)

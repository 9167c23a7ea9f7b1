package session

import (
	"time"
)

// QueryEndedEvent reports one statement an engine ran, failed or not.
type QueryEndedEvent struct {
	Query        string
	Params       []any
	Sender       any
	Session      DbSession
	ResponseTime time.Duration
	Err          error
}

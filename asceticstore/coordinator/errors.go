package coordinator

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrDuplicateContext = errors.New("coordinator: duplicate context name")
	ErrUnknownContext   = errors.New("coordinator: context is not managed by this coordinator")
	ErrClosed           = errors.New("coordinator: closed")
)

// Phase is the part of Commit that failed.
type Phase int

const (
	// PhaseBackground failed while committing a background context. Nothing
	// after that context was attempted.
	PhaseBackground Phase = iota
	// PhaseInteractive failed after every background context committed.
	PhaseInteractive
)

func (p Phase) String() string {
	if p == PhaseInteractive {
		return "interactive"
	}
	return "background"
}

type CommitError struct {
	Phase   Phase
	Context string
	Err     error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s context %q: %v", e.Phase, e.Context, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

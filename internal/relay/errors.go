package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument reports a missing or malformed required field.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound reports a session that was never connected or has been torn down.
	ErrNotFound = errors.New("session not found")
)

// Error carries a caller-facing message and unwraps to one of the sentinel
// errors above, so callers can classify it with errors.Is.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func invalidArgument(format string, args ...any) error {
	return &Error{Kind: ErrInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

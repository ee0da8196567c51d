package permit

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrInvalidState       = errors.New("invalid state")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrPolicyViolation    = errors.New("policy violation")
	ErrAlreadyDecided     = errors.New("already decided")
	ErrUnresolvedApprover = errors.New("unresolved approver")
	ErrVersionConflict    = errors.New("version conflict")
	ErrNotFound           = errors.New("permit not found")
	ErrValidation         = errors.New("validation failed")
)

// Error is a recoverable failure of a permit operation.
type Error struct {
	Kind error
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

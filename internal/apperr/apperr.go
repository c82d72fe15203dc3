// Package apperr classifies failures so callers can decide whether to
// retry, surface, or swallow them.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient is a remote call that failed but may succeed on retry.
	KindTransient
	// KindPolicy is a request that was correctly denied.
	KindPolicy
	// KindProtocol is a caller misusing a state machine.
	KindProtocol
	// KindFatal is an invariant break.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPolicy:
		return "policy"
	case KindProtocol:
		return "protocol"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ErrUnreachable marks a send that failed because the recipient severed
// contact with the bot.
var ErrUnreachable = errors.New("recipient unreachable")

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Cause() error { return e.Err }

func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Policy(op, msg string) error {
	return &Error{Kind: KindPolicy, Op: op, Err: errors.New(msg)}
}

func Protocol(op, msg string) error {
	return &Error{Kind: KindProtocol, Op: op, Err: errors.New(msg)}
}

func Fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: errors.WithStack(err)}
}

// KindOf returns the outermost classification found in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the innermost human readable message of a classified
// error, without the operation prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

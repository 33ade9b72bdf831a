package cerr

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/helmsman-dev/helmsman/pkg/clog"
)

// Error carries a machine-readable Code alongside the human-readable
// message returned to the user and the underlying error kept for logs.
type Error struct {
	Code  Code
	Msg   string // message returned to the user together with the Code
	Err   error  // underlying error, logged but not exposed
	Stack string // stack trace, captured for error-level codes
}

func NewError(code Code, msg string, underlying error) *Error {
	err := &Error{
		Code: code,
		Msg:  msg,
		Err:  underlying,
	}
	if code.HTTPCode() >= 500 {
		stackTrace := make([]byte, 2048)
		n := runtime.Stack(stackTrace, false)
		err.Stack = string(stackTrace[0:n])
	}
	return err
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code.String(), e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code.String(), e.Msg, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FromError extracts the *Error from err's chain, wrapping foreign errors
// as Unknown. Context cancellation maps to Canceled so callers can
// distinguish a user interrupt from other failure kinds.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return NewError(Canceled, "canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(DeadlineExceeded, "deadline exceeded", err)
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}
	return NewError(Unknown, "unknown error", err)
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code Code) bool {
	if code == Canceled && errors.Is(err, context.Canceled) {
		return true
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code == code
	}
	return false
}

// CodeOf returns the code of err, or Unknown for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	return FromError(err).Code
}

// Log attaches err and its stack (if any) to the context log attributes.
func Log(ctx context.Context, err error) {
	if err == nil {
		return
	}
	clog.AddError(ctx, err)
	var cerr *Error
	if errors.As(err, &cerr) && cerr.Stack != "" {
		clog.AddStack(ctx, cerr.Stack)
	}
}

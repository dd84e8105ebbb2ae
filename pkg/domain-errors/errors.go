// Package domainerrors carries coded errors across service boundaries.
//
// Services return *Error values; transports map the Code to a status. Callers
// branch on codes with HasCode, never on message text.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	CodeInternal           Code = "internal_error"
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"
	CodeExpired            Code = "expired"
	CodeAlreadyUsed        Code = "already_used"

	// Authority outcomes surfaced to callers as bracketed tags.
	CodeCapabilityDenied   Code = "capability_denied"
	CodeACCRequired        Code = "acc_required"
	CodeOSHardStop         Code = "os_hard_stop"
	CodeOSPermissionDenied Code = "os_permission_denied"
)

var tags = map[Code]string{
	CodeCapabilityDenied:   "[CAPABILITY_DENIED]",
	CodeACCRequired:        "[ACC_REQUIRED]",
	CodeOSHardStop:         "[OS_HARD_STOP]",
	CodeOSPermissionDenied: "[OS_PERMISSION_DENIED]",
}

// Tag returns the bracketed caller tag for authority codes and "" otherwise.
func (c Code) Tag() string {
	return tags[c]
}

// Error is a domain error with a code, a safe message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if tag := e.Code.Tag(); tag != "" {
		msg = tag + " " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Tag returns the bracketed caller tag, if the code has one.
func (e *Error) Tag() string { return e.Code.Tag() }

func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost domain code, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is is errors.Is, re-exported so callers need a single import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is errors.As, re-exported so callers need a single import.
func As(err error, target any) bool {
	return errors.As(err, target)
}

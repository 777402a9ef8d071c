// Package retcode defines the shared return-code vocabulary used across
// the core (spec.md §7), generalizing the teacher's per-subsystem
// sentinel-error convention (e.g. rpc.ErrDaemonUnavailable) into one
// enum with a wrapped-error helper.
package retcode

import (
	"errors"
	"fmt"
)

// Code is a single return-code kind. Negative-valued in spirit (as in
// spec.md) but represented here as a non-negative named int; CodeOf
// recovers it from an error built by New.
type Code int

const (
	OK Code = iota
	Error
	Unsupported
	BadParameter
	PreconditionNotMet
	OutOfResources
	NotEnabled
	ImmutablePolicy
	InconsistentPolicy
	AlreadyDeleted
	Timeout
	NoData
	IllegalOperation
	NotAllowedBySecurity
	TryAgain
	Interrupted
	NotFound
	OutOfRange
)

var names = map[Code]string{
	OK:                    "ok",
	Error:                 "error",
	Unsupported:           "unsupported",
	BadParameter:          "bad_parameter",
	PreconditionNotMet:    "precondition_not_met",
	OutOfResources:        "out_of_resources",
	NotEnabled:            "not_enabled",
	ImmutablePolicy:       "immutable_policy",
	InconsistentPolicy:    "inconsistent_policy",
	AlreadyDeleted:        "already_deleted",
	Timeout:               "timeout",
	NoData:                "no_data",
	IllegalOperation:      "illegal_operation",
	NotAllowedBySecurity:  "not_allowed_by_security",
	TryAgain:              "try_again",
	Interrupted:           "interrupted",
	NotFound:              "not_found",
	OutOfRange:            "out_of_range",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("retcode(%d)", int(c))
}

// codeError pairs a Code with a message, implementing error; errors.Is
// between two codeErrors compares their Codes (see Is).
type codeError struct {
	code Code
	msg  string
}

func (e *codeError) Error() string {
	if e.msg == "" {
		return e.code.String()
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

// Is reports whether target is (or wraps) a codeError with the same
// Code. A bare Code is not an error value, so callers test an error
// against a Code with CodeOf instead.
func (e *codeError) Is(target error) bool {
	var ce *codeError
	if errors.As(target, &ce) {
		return ce.code == e.code
	}
	return false
}

// New creates an error carrying code, with an optional formatted message.
func New(code Code, format string, args ...any) error {
	return &codeError{code: code, msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code carried by err, or Error if err does not
// originate from this package.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var ce *codeError
	if errors.As(err, &ce) {
		return ce.code
	}
	return Error
}

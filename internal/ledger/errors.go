package ledger

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes ledger errors.
type ErrorCode string

const (
	// CodeValidation indicates a bad denomination, type, amount or date at
	// issuance. Rejected before any mutation.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeInsufficientCapacity indicates a secured amount exceeding the
	// securer's available capacity.
	CodeInsufficientCapacity ErrorCode = "INSUFFICIENT_CAPACITY"

	// CodeAlreadyProcessed indicates re-insertion of a credex already in the
	// cycle index. Callers treat it as success.
	CodeAlreadyProcessed ErrorCode = "ALREADY_PROCESSED"

	// CodeGraphInconsistency indicates an expected record is missing or
	// malformed (no active day, broken index). Fatal for the current
	// operation; state is left unmodified.
	CodeGraphInconsistency ErrorCode = "GRAPH_INCONSISTENCY"

	// CodeRateFailure indicates the rate source was unreachable or returned
	// an incomplete/invalid table. Fatal for the current rebase run.
	CodeRateFailure ErrorCode = "RATE_FAILURE"

	// CodeNotFound indicates a referenced account or credex does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeLeaseHeld indicates a scheduler lease is held by another owner.
	// Surfaces as a logged skip, never as a failure.
	CodeLeaseHeld ErrorCode = "LEASE_HELD"
)

// Error is the structured error type shared across ledger components.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // optional cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs an Error from a code and formatted message.
func E(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Code == code
	}
	return false
}

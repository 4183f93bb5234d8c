package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess  Code = 0
	CodeInternal Code = 1
	CodeUsage    Code = 2

	// Relay failures. Each one aborts the triggering call as a whole.
	CodeUnauthorized        Code = 10
	CodeUnknownDestination  Code = 11
	CodeNoSwapperRegistered Code = 12
	CodeUnsupportedPair     Code = 13
	CodeVenueFailure        Code = 14

	CodeUnavailable   Code = 20
	CodeSigner        Code = 21
	CodeActionPlan    Code = 22
	CodeActionSim     Code = 23
	CodeActionTimeout Code = 24
	CodeBlocked       Code = 25
	CodeRateLimited   Code = 26
	CodePartialStrict Code = 27
)

// Error is a typed relay error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether the outermost typed error in err's chain carries code.
func Is(err error, code Code) bool {
	cErr, ok := As(err)
	return ok && cErr.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName is the snake_case error type used in rendered error envelopes.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeUnknownDestination:
		return "unknown_destination"
	case CodeNoSwapperRegistered:
		return "no_swapper_registered"
	case CodeUnsupportedPair:
		return "unsupported_pair"
	case CodeVenueFailure:
		return "venue_execution_failure"
	case CodeUnavailable:
		return "unavailable"
	case CodeSigner:
		return "signer_error"
	case CodeActionPlan:
		return "action_plan_error"
	case CodeActionSim:
		return "action_simulation_error"
	case CodeActionTimeout:
		return "action_timeout"
	case CodeBlocked:
		return "command_blocked"
	case CodeRateLimited:
		return "rate_limited"
	case CodePartialStrict:
		return "partial_results"
	default:
		return "internal_error"
	}
}

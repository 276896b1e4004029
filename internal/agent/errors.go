// internal/agent/errors.go
package agent

import (
	"context"
	"errors"

	"github.com/KASPER94/browser-use-llm/api/schemas"
)

// ErrorCode is a string type used for structured error reporting in the
// action history. The planner sees these codes on the next planning round.
type ErrorCode string

const (
	// -- Parsing --
	ErrCodeParseError    ErrorCode = "PARSE_ERROR"
	ErrCodeUnknownAction ErrorCode = "UNKNOWN_ACTION_TYPE"

	// -- Browser/DOM Errors --
	ErrCodeElementNotFound ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeNavigationError ErrorCode = "NAVIGATION_ERROR"
	ErrCodeTimeoutError    ErrorCode = "TIMEOUT_ERROR"

	// -- General Execution Errors --
	ErrCodeExecutionFailure ErrorCode = "EXECUTION_FAILURE"
	ErrCodeNotImplemented   ErrorCode = "NOT_IMPLEMENTED"

	// -- Internal System Errors --
	ErrCodeExecutorPanic ErrorCode = "EXECUTOR_PANIC"
)

// classify maps an execution error onto a code. fallback is used when
// nothing more specific applies.
func classify(err error, fallback ErrorCode) ErrorCode {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeoutError
	case errors.Is(err, schemas.ErrElementNotFound), errors.Is(err, schemas.ErrResolutionExhausted):
		return ErrCodeElementNotFound
	case errors.Is(err, schemas.ErrActionParse):
		return ErrCodeParseError
	}
	return fallback
}

// fatal reports errors that end the task instead of feeding the next plan.
func fatal(err error) bool {
	return errors.Is(err, schemas.ErrNotInitialized) || errors.Is(err, context.Canceled)
}

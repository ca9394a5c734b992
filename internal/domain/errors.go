// Package domain provides shared domain-level sentinel errors and the
// error taxonomy for the change pipeline.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrBudgetExceeded blocks a delegation before execution. A blocked
// delegation is recorded as blocked, never as failed, and is not retried
// within the same cycle.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ErrTimeout marks a subprocess or LLM call that exceeded its deadline.
// Subprocesses killed by SIGTERM surface exit code 143 and map here.
var ErrTimeout = errors.New("operation timed out")

// ErrValidationFailed marks lint/type-check failures inside a feature
// branch. Retried through correction rounds up to the configured limit.
var ErrValidationFailed = errors.New("workspace validation failed")

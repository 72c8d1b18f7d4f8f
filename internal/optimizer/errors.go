package optimizer

import (
	"errors"
	"fmt"
)

// ErrBudgetExceeded matches every *BudgetExceededError via errors.Is.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ErrInvalidRequest is wrapped by validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// Window names a budget window.
type Window string

const (
	WindowDaily   Window = "daily"
	WindowMonthly Window = "monthly"
)

// BudgetExceededError rejects a request before any provider is called.
type BudgetExceededError struct {
	Window Window
	Spend  float64
	Limit  float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded: spent $%.4f of $%.2f", e.Window, e.Spend, e.Limit)
}

func (e *BudgetExceededError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

// ErrorKind classifies an OptimizerError.
type ErrorKind string

// KindFailed means both the primary and the fallback attempt failed.
const KindFailed ErrorKind = "failed"

// OptimizerError is the terminal failure of a request. Primary is the error
// of the routed attempt, Fallback the error of the default-provider attempt.
// In disabled mode only Primary is set.
type OptimizerError struct {
	Kind     ErrorKind
	Primary  error
	Fallback error
}

func (e *OptimizerError) Error() string {
	if e.Fallback == nil {
		return fmt.Sprintf("optimizer %s: %v", e.Kind, e.Primary)
	}
	return fmt.Sprintf("optimizer %s: primary: %v; fallback: %v", e.Kind, e.Primary, e.Fallback)
}

func (e *OptimizerError) Unwrap() []error {
	var errs []error
	for _, err := range []error{e.Primary, e.Fallback} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

package promise

import "fmt"

// ErrSelfResolution is the reason used to reject a promise that is resolved
// with itself (spec step: resolution procedure, self-resolution check).
var ErrSelfResolution = fmt.Errorf("promise: cannot resolve a promise with itself")

// AggregateError collects the rejection reasons observed by a combinator
// (e.g. Any, when every input promise rejects).
type AggregateError struct {
	Errors []any
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("promise: all %d promises rejected", len(e.Errors))
}

// ErrNoPromiseResolved is the sole entry of the *AggregateError that Any
// rejects with when given no promises.
var ErrNoPromiseResolved = fmt.Errorf("promise: no promise in the iterable was fulfilled")

// UnhandledRejectionError is the payload the default unhandled-rejection sink
// logs at tick end (spec §4.4, §7) when no scope on the promise's chain has
// its own sink. It carries the original reason and the long-stack string
// describing the promise chain that produced it; LongStack is empty when
// diagnostics are disabled.
type UnhandledRejectionError struct {
	Reason    any
	LongStack string
}

func (e *UnhandledRejectionError) Error() string {
	if e.LongStack != "" {
		return fmt.Sprintf("unhandled rejection: %v\n%s", e.Reason, e.LongStack)
	}
	return fmt.Sprintf("unhandled rejection: %v", e.Reason)
}

func (e *UnhandledRejectionError) Unwrap() error {
	if err, ok := e.Reason.(error); ok {
		return err
	}
	return nil
}

package promise

import (
	"sync"
	"sync/atomic"
)

// All waits for every promise in promises to fulfill, resolving with their
// values in input order, or rejects with the first rejection reason observed
// (spec §6/§8 scenario A3). An empty input resolves immediately with an
// empty slice.
func All(e *Engine, promises []*Promise) *Promise {
	result, resolve, reject := WithResolvers(e)

	if len(promises) == 0 {
		resolve([]any{})
		return result
	}

	var mu sync.Mutex
	var completed atomic.Int32
	var hasRejected atomic.Bool
	values := make([]any, len(promises))
	total := int32(len(promises))

	for i, p := range promises {
		idx := i
		p.Then(
			func(v any) any {
				mu.Lock()
				values[idx] = v
				mu.Unlock()
				if completed.Add(1) == total && !hasRejected.Load() {
					resolve(values)
				}
				return nil
			},
			func(r any) any {
				if hasRejected.CompareAndSwap(false, true) {
					reject(r)
				}
				return nil
			},
		)
	}

	return result
}

// Race settles with the first of promises to settle, by either outcome
// (spec §6/§8 scenario A4). An empty input never settles.
func Race(e *Engine, promises []*Promise) *Promise {
	result, resolve, reject := WithResolvers(e)

	var settled atomic.Bool
	for _, p := range promises {
		p.Then(
			func(v any) any {
				if settled.CompareAndSwap(false, true) {
					resolve(v)
				}
				return nil
			},
			func(r any) any {
				if settled.CompareAndSwap(false, true) {
					reject(r)
				}
				return nil
			},
		)
	}

	return result
}

// Settled is one entry of AllSettled's result slice.
type Settled struct {
	Fulfilled bool
	Value     any
	Reason    any
}

// AllSettled waits for every promise in promises to settle, by either
// outcome, and resolves with a []Settled in input order. It never rejects.
func AllSettled(e *Engine, promises []*Promise) *Promise {
	if len(promises) == 0 {
		return Resolved(e, []Settled{})
	}

	result, resolve, _ := WithResolvers(e)

	var mu sync.Mutex
	var completed atomic.Int32
	results := make([]Settled, len(promises))
	total := int32(len(promises))

	for i, p := range promises {
		idx := i
		p.Then(
			func(v any) any {
				mu.Lock()
				results[idx] = Settled{Fulfilled: true, Value: v}
				mu.Unlock()
				if completed.Add(1) == total {
					resolve(results)
				}
				return nil
			},
			func(r any) any {
				mu.Lock()
				results[idx] = Settled{Fulfilled: false, Reason: r}
				mu.Unlock()
				if completed.Add(1) == total {
					resolve(results)
				}
				return nil
			},
		)
	}

	return result
}

// Any resolves with the first fulfillment observed, or rejects with an
// *AggregateError once every promise has rejected. An empty input rejects
// immediately with an *AggregateError whose only entry is
// ErrNoPromiseResolved.
func Any(e *Engine, promises []*Promise) *Promise {
	result, resolve, reject := WithResolvers(e)

	if len(promises) == 0 {
		reject(&AggregateError{Errors: []any{ErrNoPromiseResolved}})
		return result
	}

	var mu sync.Mutex
	var rejectedCount atomic.Int32
	var resolved atomic.Bool
	reasons := make([]any, len(promises))
	total := int32(len(promises))

	for i, p := range promises {
		idx := i
		p.Then(
			func(v any) any {
				if resolved.CompareAndSwap(false, true) {
					resolve(v)
				}
				return nil
			},
			func(r any) any {
				mu.Lock()
				reasons[idx] = r
				mu.Unlock()
				if rejectedCount.Add(1) == total && !resolved.Load() {
					reject(&AggregateError{Errors: reasons})
				}
				return nil
			},
		)
	}

	return result
}

// Resolve is [Resolved] against the package-level default Engine.
func Resolve(value any) *Promise { return Resolved(Default(), value) }

// Reject is [Rejected] against the package-level default Engine.
func Reject(reason any) *Promise { return Rejected(Default(), reason) }

// NewPSD runs fn under a fresh child scope of the default Engine's current
// PSD ([Engine.NewScope]).
func NewPSD(fn func() any) any { return Default().NewScope(fn) }

// UsePSD runs fn with scope temporarily active as the default Engine's PSD
// ([Engine.UsePSD]).
func UsePSD(scope *Scope, fn func() any) any { return Default().UsePSD(scope, fn) }

// PSD returns the default Engine's currently active scope.
func PSD() *Scope { return Default().PSD() }

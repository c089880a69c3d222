package promise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenario_A3_AllResolvesInInputOrder: All over Resolved(1) and
// Resolved(2) resolves to [1, 2]. All accepts only *Promise inputs, so a bare
// non-promise value has no place in the input slice.
func TestScenario_A3_AllResolvesInInputOrder(t *testing.T) {
	e, host := newQueuedEngine()

	promises := []*Promise{Resolved(e, 1), Resolved(e, 2)}
	all := All(e, promises)

	var got any
	all.Then(func(v any) any { got = v; return nil }, nil)
	host.drain()

	assert.Equal(t, []any{1, 2}, got)
}

func TestAll_RejectsWithFirstRejectionObserved(t *testing.T) {
	e, host := newQueuedEngine()

	a, resolveA, _ := WithResolvers(e)
	b, _, rejectB := WithResolvers(e)

	var got any
	All(e, []*Promise{a, b}).Catch(func(r any) any { got = r; return nil })

	rejectB("first")
	resolveA(1)
	host.drain()

	assert.Equal(t, "first", got)
}

func TestAll_EmptyInputResolvesImmediatelyToEmptySlice(t *testing.T) {
	e, host := newQueuedEngine()

	var got any
	All(e, nil).Then(func(v any) any { got = v; return nil }, nil)
	host.drain()

	assert.Equal(t, []any{}, got)
}

// TestScenario_A4 mirrors spec scenario A4: racing promises settle with
// whichever settles first, by either outcome.
func TestScenario_A4_RaceSettlesWithFirst(t *testing.T) {
	e, host := newQueuedEngine()

	slow, resolveSlow, _ := WithResolvers(e)
	fast, resolveFast, _ := WithResolvers(e)

	var got any
	Race(e, []*Promise{slow, fast}).Then(func(v any) any { got = v; return nil }, nil)

	resolveFast("fast")
	resolveSlow("slow")
	host.drain()

	assert.Equal(t, "fast", got)
}

func TestRace_RejectionWinsIfFirst(t *testing.T) {
	e, host := newQueuedEngine()

	a, _, rejectA := WithResolvers(e)
	b, resolveB, _ := WithResolvers(e)

	var got any
	var fulfilled bool
	Race(e, []*Promise{a, b}).Then(
		func(v any) any { got = v; fulfilled = true; return nil },
		func(r any) any { got = r; return nil },
	)

	rejectA("boom")
	resolveB("late")
	host.drain()

	assert.Equal(t, "boom", got)
	assert.False(t, fulfilled)
}

func TestAllSettled_NeverRejectsAndReportsBothOutcomes(t *testing.T) {
	e, host := newQueuedEngine()

	ok := Resolved(e, "fine")
	bad := Rejected(e, "bad")

	var got []Settled
	var rejected bool
	AllSettled(e, []*Promise{ok, bad}).Then(
		func(v any) any { got = v.([]Settled); return nil },
		func(any) any { rejected = true; return nil },
	)
	host.drain()

	require.False(t, rejected)
	require.Len(t, got, 2)
	assert.True(t, got[0].Fulfilled)
	assert.Equal(t, "fine", got[0].Value)
	assert.False(t, got[1].Fulfilled)
	assert.Equal(t, "bad", got[1].Reason)
}

func TestAllSettled_EmptyInputResolvesToEmptySlice(t *testing.T) {
	e, host := newQueuedEngine()

	var got []Settled
	AllSettled(e, nil).Then(func(v any) any { got = v.([]Settled); return nil }, nil)
	host.drain()

	assert.Empty(t, got)
}

func TestAny_ResolvesWithFirstFulfillment(t *testing.T) {
	e, host := newQueuedEngine()

	a, _, rejectA := WithResolvers(e)
	b, resolveB, _ := WithResolvers(e)

	var got any
	Any(e, []*Promise{a, b}).Then(func(v any) any { got = v; return nil }, nil)

	rejectA("first failure")
	resolveB("winner")
	host.drain()

	assert.Equal(t, "winner", got)
}

func TestAny_RejectsWithAggregateErrorWhenAllReject(t *testing.T) {
	e, host := newQueuedEngine()

	a, _, rejectA := WithResolvers(e)
	b, _, rejectB := WithResolvers(e)

	var got any
	Any(e, []*Promise{a, b}).Catch(func(r any) any { got = r; return nil })

	rejectA("one")
	rejectB("two")
	host.drain()

	agg, ok := got.(*AggregateError)
	require.True(t, ok)
	assert.Equal(t, []any{"one", "two"}, agg.Errors)
}

func TestAny_EmptyInputRejectsWithAggregateErrorOfNoPromiseResolved(t *testing.T) {
	e, host := newQueuedEngine()

	var got any
	Any(e, nil).Catch(func(r any) any { got = r; return nil })
	host.drain()

	agg, ok := got.(*AggregateError)
	require.True(t, ok)
	assert.Equal(t, []any{ErrNoPromiseResolved}, agg.Errors)
}

func TestResolveReject_UseDefaultEngine(t *testing.T) {
	assert.Equal(t, StateFulfilled, Resolve(1).State())
	assert.Equal(t, StateRejected, Reject("boom").State())
}

func TestPackageLevelPSDWrappers(t *testing.T) {
	var observed *Scope
	NewPSD(func() any {
		observed = PSD()
		return nil
	})
	assert.NotNil(t, observed)
	assert.Equal(t, PSD(), Default().PSD())
}

func TestUsePSD_DelegatesToDefaultEngine(t *testing.T) {
	child := Default().newChildScope()
	var got *Scope
	UsePSD(child, func() any { got = PSD(); return nil })
	assert.Equal(t, child, got)
}

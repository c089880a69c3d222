package promise

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queuedHostTask stands in for a real host task primitive: run queues the
// work instead of invoking it, so a test can attach further listeners
// before simulating "tick end" via drain.
type queuedHostTask struct {
	pending []func()
}

func (h *queuedHostTask) run(fn func()) {
	h.pending = append(h.pending, fn)
}

func (h *queuedHostTask) drain() {
	for len(h.pending) > 0 {
		fn := h.pending[0]
		h.pending = h.pending[1:]
		fn()
	}
}

func newQueuedEngine() (*Engine, *queuedHostTask) {
	host := &queuedHostTask{}
	return NewEngine(WithHostTask(host.run)), host
}

func TestPromise_StateTransitionsAtMostOnce(t *testing.T) {
	e, host := newQueuedEngine()
	p, resolve, reject := WithResolvers(e)

	resolve(1)
	resolve(2)
	reject("nope")
	host.drain()

	assert.Equal(t, StateFulfilled, p.State())
	v, settled := p.Value()
	assert.True(t, settled)
	assert.Equal(t, 1, v)
}

func TestPromise_ListenersDispatchInRegistrationOrder(t *testing.T) {
	e, host := newQueuedEngine()
	p, resolve, _ := WithResolvers(e)

	var order []int
	p.Then(func(v any) any { order = append(order, 1); return nil }, nil)
	p.Then(func(v any) any { order = append(order, 2); return nil }, nil)

	resolve(nil)
	host.drain()

	assert.Equal(t, []int{1, 2}, order)
}

// TestScenario_A1 mirrors spec scenario A1: new P(r => r(1)).then(x =>
// log(x+1)) under root scope logs 2 once the tick ends, with no unhandled
// reports.
func TestScenario_A1(t *testing.T) {
	e, host := newQueuedEngine()

	var got any
	p := New(e, func(resolve, reject func(any)) { resolve(1) })
	p.Then(func(v any) any {
		got = v.(int) + 1
		return nil
	}, nil)

	assert.Nil(t, got, "handler must not run synchronously within Then")
	host.drain()
	assert.Equal(t, 2, got)
}

// TestScenario_A2 mirrors spec scenario A2: new P((_, j) => j('e')).then(null,
// e => log(e)) logs 'e' and leaves no unhandled report at tick end, because
// the rejection handler is attached before the tick ends.
func TestScenario_A2(t *testing.T) {
	e, host := newQueuedEngine()

	var reported []any
	e.root.onunhandled = func(reason any, p *Promise) { reported = append(reported, reason) }

	var got any
	p := New(e, func(resolve, reject func(any)) { reject("e") })
	p.Then(nil, func(r any) any {
		got = r
		return nil
	})

	host.drain()

	assert.Equal(t, "e", got)
	assert.Empty(t, reported, "a rejection observed before tick end must not be reported unhandled")
}

func TestPromise_ResolveAdoptsPromiseValue(t *testing.T) {
	e, host := newQueuedEngine()
	inner, resolveInner, _ := WithResolvers(e)
	outer, resolveOuter, _ := WithResolvers(e)

	var got any
	outer.Then(func(v any) any { got = v; return nil }, nil)
	resolveOuter(inner)
	resolveInner("eventually")

	host.drain()
	assert.Equal(t, "eventually", got)
}

func TestPromise_SelfResolutionRejectsWithTypeError(t *testing.T) {
	e, host := newQueuedEngine()
	p, resolve, _ := WithResolvers(e)

	var got any
	p.Catch(func(r any) any { got = r; return nil })
	resolve(p)
	host.drain()

	assert.Equal(t, ErrSelfResolution, got)
}

type stubThenable struct {
	calls int
	run   func(resolve, reject func(any))
}

func (s *stubThenable) Then(resolve, reject func(any)) {
	s.calls++
	s.run(resolve, reject)
}

func TestPromise_AdoptsForeignThenableOnce(t *testing.T) {
	e, host := newQueuedEngine()
	p, resolve, _ := WithResolvers(e)

	th := &stubThenable{run: func(resolve, reject func(any)) {
		resolve("first")
		resolve("second")
	}}

	var got any
	p.Then(func(v any) any { got = v; return nil }, nil)
	resolve(th)
	host.drain()

	assert.Equal(t, 1, th.calls)
	assert.Equal(t, "first", got)
}

func TestPromise_HandlerPanicRejectsDerivedWithRawValue(t *testing.T) {
	e, host := newQueuedEngine()
	p, resolve, _ := WithResolvers(e)

	derived := p.Then(func(v any) any { panic("boom") }, nil)
	var got any
	derived.Catch(func(r any) any { got = r; return nil })

	resolve(nil)
	host.drain()

	assert.Equal(t, "boom", got, "a handler panic's raw value propagates unwrapped as the rejection reason")
}

func TestPromise_CatchTypeForwardsNonMatchingReason(t *testing.T) {
	e, host := newQueuedEngine()
	p, _, reject := WithResolvers(e)

	sentinel := errors.New("sentinel")
	isSentinel := func(r any) bool { return errors.Is(r.(error), sentinel) }

	var caught, forwarded any
	p.CatchType(isSentinel, func(r any) any { caught = r; return nil }).
		Catch(func(r any) any { forwarded = r; return nil })

	reject(errors.New("other"))
	host.drain()

	assert.Nil(t, caught)
	assert.NotNil(t, forwarded)
}

func TestPromise_FinallyForwardsSettlementAndDiscardsOwnPanic(t *testing.T) {
	e, host := newQueuedEngine()
	p, _, reject := WithResolvers(e)

	var ran bool
	var got any
	p.Finally(func() { ran = true; panic("cleanup failed") }).
		Catch(func(r any) any { got = r; return nil })

	reject("original")
	host.drain()

	assert.True(t, ran)
	assert.Equal(t, "original", got)
}

func TestPromise_ToChannelYieldsOutcome(t *testing.T) {
	e, host := newQueuedEngine()
	p, resolve, _ := WithResolvers(e)

	ch := p.ToChannel()
	resolve("done")
	host.drain()

	out := <-ch
	assert.Equal(t, StateFulfilled, out.State)
	assert.Equal(t, "done", out.Value)
}

// TestSettle_LibModeDrainsMicroTickScopeSynchronously exercises the libMode
// mechanism directly: no public constructor sets it, so this test sets the
// unexported field to verify settle's drain branch still behaves as spec
// §4.3 describes for any future trusted caller.
func TestSettle_LibModeDrainsMicroTickScopeSynchronously(t *testing.T) {
	e, host := newQueuedEngine()
	p, resolve, _ := WithResolvers(e)
	p.libMode = true

	var ran bool
	p.Then(func(v any) any { ran = true; return nil }, nil)

	resolve(nil)

	assert.True(t, ran, "a libMode promise must drain its reactive subtree before resolve returns")
	assert.Empty(t, host.pending, "draining synchronously must never fall back to requesting a host task")
}

func TestPromise_IDsAreUniqueAndMonotonic(t *testing.T) {
	e, _ := newQueuedEngine()
	a, _, _ := WithResolvers(e)
	b, _, _ := WithResolvers(e)
	require.NotEqual(t, a.ID(), b.ID())
	assert.Less(t, a.ID(), b.ID())
}

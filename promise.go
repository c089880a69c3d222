package promise

import "sync"

// State is one of the three states a Promise may occupy (spec §3).
// A promise's state is terminal once it is StateFulfilled or StateRejected.
type State int32

const (
	StatePending State = iota
	StateFulfilled
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFulfilled:
		return "fulfilled"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Handler is a then/catch callback. A normal return becomes the derived
// promise's fulfillment value (adopted if it is itself a *Promise or a
// Thenable); a panic becomes the derived promise's rejection reason,
// unmodified — the Go analogue of a JS handler throw (spec §7 "Handler
// throw").
type Handler func(value any) any

// Thenable is satisfied by any foreign value exposing a callable then, in
// the sense spec §4.3 step 3 describes (duck-typed interop). *Promise does
// not implement Thenable; adoption of a *Promise value is special-cased in
// resolveInternal, matching spec.md's description of native-instance
// adoption as distinct from foreign-thenable adoption.
type Thenable interface {
	Then(resolve, reject func(any))
}

// listener is the record created at Then time (spec §3 "Listener"):
// optional handler callbacks, paired with the resolve/reject of the derived
// promise and the scope captured when Then was called.
type listener struct {
	onFulfilled Handler
	onRejected  Handler
	resolve     func(any)
	reject      func(any)
	scope       *Scope
}

// Promise is the thenable core described by spec §3/§4.3.
type Promise struct {
	engine *Engine
	id     uint64

	// libMode permits settle to drain the micro-tick scope synchronously,
	// beneath the resolve/reject call that terminates this promise, instead
	// of waiting for a host task (spec §4.3 "library-mode drain", §5
	// "libmode invariant"). It is never settable from outside this package
	// (spec §9: "never expose to end users") and always false for every
	// public construction path in this package today: Resolved/Rejected
	// settle before any listener can be attached, so draining immediately
	// underneath them would race the unhandled-rejection tracker's own
	// end-of-tick nudge ahead of a caller's synchronous Catch (spec scenario
	// A6's "attaching catch synchronously suppresses the report" depends on
	// that nudge losing the race). The field and settle's drain branch exist
	// so a future trusted caller — one that can prove its own stack holds no
	// user code at settlement time — has somewhere to plug in without
	// touching the resolution procedure itself.
	libMode bool

	mu        sync.Mutex
	state     State
	value     any
	listeners []listener
	scope     *Scope

	// diagnostics (spec §4.5); zero value when the owning Engine has
	// diagnostics disabled.
	stackHolder []uintptr
	prev        *Promise
	numPrev     int
	cachedStack string
}

// New constructs a promise bound to e, invoking resolver synchronously with
// resolve/reject closures implementing the resolution procedure (spec
// §4.3). A panic inside resolver before it settles the promise is treated
// as a resolver-throw rejection (spec §7).
func New(e *Engine, resolver func(resolve, reject func(any))) *Promise {
	p := newPendingPromise(e)
	if e.diagnosticsEnabled {
		if f := e.currentFulfiller.Load(); f != nil {
			p.linkPrev(f)
		}
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.rejectInternal(r)
			}
		}()
		resolver(p.resolveInternal, p.rejectInternal)
	}()
	return p
}

// WithResolvers returns a pending promise together with its resolve/reject
// functions (spec §1's supplemented ES2024 `Promise.withResolvers` shape).
func WithResolvers(e *Engine) (*Promise, func(any), func(any)) {
	p := newPendingPromise(e)
	return p, p.resolveInternal, p.rejectInternal
}

// Resolved returns an already-fulfilled promise. This is the Go-idiomatic
// analogue of Promise.resolve for a plain value; a *Promise or Thenable
// passed in is adopted exactly as resolve(value) would adopt it.
func Resolved(e *Engine, value any) *Promise {
	p := newPendingPromise(e)
	p.resolveInternal(value)
	return p
}

// Rejected returns an already-rejected promise with the given reason.
func Rejected(e *Engine, reason any) *Promise {
	p := newPendingPromise(e)
	p.rejectInternal(reason)
	return p
}

func newPendingPromise(e *Engine) *Promise {
	scope := e.PSD()
	scope.addRef()
	p := &Promise{
		engine: e,
		id:     e.nextPromiseID(),
		state:  StatePending,
		scope:  scope,
	}
	if e.diagnosticsEnabled {
		p.captureCreationStack()
	}
	return p
}

// ID returns this promise's process-unique identity within its Engine. It
// backs the unhandled-rejection tracker's dedup key, which compares promise
// identity rather than mapped-reason identity so a RejectionMapper may
// return a fresh value on every call without breaking dedup.
func (p *Promise) ID() uint64 { return p.id }

// State returns the promise's current state.
func (p *Promise) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Value returns the settled value or reason, and whether the promise has
// settled at all. It does not block.
func (p *Promise) Value() (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.state != StatePending
}

// resolveInternal implements spec §4.3's resolve(value) steps.
func (p *Promise) resolveInternal(value any) {
	if inner, ok := value.(*Promise); ok {
		if inner == p {
			p.rejectInternal(ErrSelfResolution)
			return
		}
		inner.subscribeInternal(p.resolveInternal, p.rejectInternal)
		return
	}
	if t, ok := value.(Thenable); ok {
		p.adoptThenable(t)
		return
	}
	p.settle(StateFulfilled, value)
}

// adoptThenable invokes a foreign thenable's then exactly once, guarding
// against a misbehaving thenable calling resolve/reject more than once
// (spec §7 "Misbehaving thenable").
func (p *Promise) adoptThenable(t Thenable) {
	var once sync.Once
	resolveOnce := func(v any) { once.Do(func() { p.resolveInternal(v) }) }
	rejectOnce := func(r any) { once.Do(func() { p.rejectInternal(r) }) }
	func() {
		defer func() {
			if r := recover(); r != nil {
				rejectOnce(r)
			}
		}()
		t.Then(resolveOnce, rejectOnce)
	}()
}

// rejectInternal implements spec §4.3's reject(reason) steps.
func (p *Promise) rejectInternal(reason any) {
	mapped := reason
	if p.engine.rejectionMapper != nil {
		mapped = p.engine.rejectionMapper(reason)
	}
	p.settle(StateRejected, mapped)
}

// settle performs the one-shot terminal transition shared by resolve and
// reject's final step, dispatches whatever listeners had accumulated while
// pending, and releases this promise's reference on its owning scope (spec
// §3 invariant: "ref... decremented exactly once when all listeners have
// been dispatched").
//
// If libMode is set and this call manages to open the micro-tick scope
// (beginMicroTickScope returns true — i.e. no drain is already in progress
// higher on the stack), settle ends by draining it here, synchronously,
// rather than leaving that to a host task (spec §4.3 "library-mode drain").
// Listener dispatch itself is unaffected either way: a handler is always
// scheduled via asap, never invoked directly from within Then, preserving
// the A+ guarantee spec §8 invariant 3 carves the libMode exception out of.
func (p *Promise) settle(state State, value any) {
	p.mu.Lock()
	if p.state != StatePending {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.value = value
	listeners := p.listeners
	p.listeners = nil
	libMode := p.libMode
	p.mu.Unlock()

	if state == StateRejected {
		p.engine.trackRejection(p)
	}

	drain := libMode && p.engine.scheduler.beginMicroTickScope()

	for _, l := range listeners {
		p.dispatchListener(l, state, value)
	}

	if drain {
		p.engine.scheduler.endMicroTickScope()
	}

	p.scope.release()
}

// subscribeInternal attaches a bare forwarding listener (no handler
// callbacks) used for adopting a *Promise value and for the handled-rejection
// "same reason" inspection in settleHandledAfterRejectionHandler. It never
// participates in handled-rejection tracking itself, exactly as a
// handler-less `then` would not (spec §4.3 propagateToListener's shortcut).
func (p *Promise) subscribeInternal(onFulfilled, onRejected func(any)) {
	p.addListener(listener{resolve: onFulfilled, reject: onRejected, scope: p.engine.PSD()})
}

// addListener implements spec §4.3 propagateToListener's pending branch
// (enqueue) and otherwise dispatches immediately.
func (p *Promise) addListener(l listener) {
	p.mu.Lock()
	if p.state == StatePending {
		p.listeners = append(p.listeners, l)
		p.mu.Unlock()
		return
	}
	state, value := p.state, p.value
	p.mu.Unlock()
	p.dispatchListener(l, state, value)
}

// dispatchListener implements the rest of propagateToListener: select the
// callback by state; if absent, forward synchronously; otherwise schedule
// callListener via asap, after charging the listener's scope ref and the
// scheduler's in-flight call counter.
func (p *Promise) dispatchListener(l listener, state State, value any) {
	var cb Handler
	if state == StateFulfilled {
		cb = l.onFulfilled
	} else {
		cb = l.onRejected
	}
	if cb == nil {
		if state == StateFulfilled {
			if l.resolve != nil {
				l.resolve(value)
			}
		} else {
			if l.reject != nil {
				l.reject(value)
			}
		}
		return
	}

	if state == StateRejected {
		p.engine.signalHandlerAttached(p)
	}

	l.scope.addRef()
	p.engine.scheduler.beginScheduledCall()
	p.engine.scheduler.asap(func() {
		p.callListener(cb, state, value, l)
	})
}

type handlerOutcome struct {
	value    any
	panicked bool
	reason   any
}

func callHandlerSafely(cb Handler, value any) (out handlerOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out.panicked = true
			out.reason = r
		}
	}()
	out.value = cb(value)
	return out
}

// callListener implements spec §4.3 callListener: switch into the
// listener's scope, run the handler, settle the derived promise with the
// outcome, then restore bookkeeping (scheduled-call counter, scope ref) in
// the order spec.md describes.
func (p *Promise) callListener(cb Handler, upstreamState State, upstreamValue any, l listener) {
	prevFulfiller := p.engine.currentFulfiller.Swap(p)

	outAny := p.engine.UsePSD(l.scope, func() any {
		out := callHandlerSafely(cb, upstreamValue)
		return out
	})
	out := outAny.(handlerOutcome)

	p.engine.currentFulfiller.Store(prevFulfiller)

	if upstreamState == StateRejected {
		p.settleHandledAfterRejectionHandler(out, upstreamValue)
	}

	if out.panicked {
		l.reject(out.reason)
	} else {
		l.resolve(out.value)
	}

	finished := p.engine.scheduler.endScheduledCall()
	if finished {
		p.engine.finalizePhysicalTick()
	}
	l.scope.release()
}

// settleHandledAfterRejectionHandler implements spec §4.3/§4.4's "same
// reason" rule: a rejection handler that returns a *Promise which rejects
// with the identical reason has not observed it; anything else — a panic
// (whatever its value), a normal return of any non-*Promise value, or a
// returned *Promise that fulfills or rejects with a different reason —
// marks the original rejection handled.
func (p *Promise) settleHandledAfterRejectionHandler(out handlerOutcome, originalReason any) {
	if out.panicked {
		p.engine.markRejectionHandled(p)
		return
	}
	if inner, ok := out.value.(*Promise); ok {
		inner.subscribeInternal(
			func(any) { p.engine.markRejectionHandled(p) },
			func(reason any) {
				if !reasonsEqual(reason, originalReason) {
					p.engine.markRejectionHandled(p)
				}
			},
		)
		return
	}
	p.engine.markRejectionHandled(p)
}

func reasonsEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// Then attaches fulfillment/rejection handlers and returns a new promise
// settled with their outcome (spec §4.3/§6). Either handler may be nil, in
// which case the corresponding state passes through unchanged.
func (p *Promise) Then(onFulfilled, onRejected Handler) *Promise {
	derived := newPendingPromise(p.engine)
	if p.engine.diagnosticsEnabled {
		derived.linkPrev(p)
	}
	p.addListener(listener{
		onFulfilled: onFulfilled,
		onRejected:  onRejected,
		resolve:     derived.resolveInternal,
		reject:      derived.rejectInternal,
		scope:       p.engine.PSD(),
	})
	return derived
}

// Catch is Then(nil, onRejected) (spec §6).
func (p *Promise) Catch(onRejected Handler) *Promise {
	return p.Then(nil, onRejected)
}

// CatchType runs onRejected only for rejections the caller-supplied matches
// predicate accepts, forwarding any non-matching rejection unchanged (spec §6
// catch(type, cb)). The predicate alone decides: CatchType itself performs no
// type check and no name match.
func (p *Promise) CatchType(matches func(reason any) bool, onRejected Handler) *Promise {
	return p.Then(nil, func(reason any) any {
		if !matches(reason) {
			panic(reason)
		}
		return onRejected(reason)
	})
}

// Finally runs onFinally unconditionally and forwards the original
// settlement unchanged. A panic inside onFinally itself is discarded rather
// than propagated — a deliberate divergence from JS Promise semantics, since
// letting a cleanup callback's failure silently replace the real settlement
// is rarely what's wanted.
func (p *Promise) Finally(onFinally func()) *Promise {
	runFinally := func() {
		defer func() { recover() }()
		onFinally()
	}
	return p.Then(
		func(v any) any {
			runFinally()
			return v
		},
		func(r any) any {
			runFinally()
			panic(r)
		},
	)
}

// ToChannel returns a receive-only channel that yields exactly one Outcome
// once this promise settles. It has no spec.md analogue — JS has no
// channels — but is the idiomatic Go escape hatch out of the ambient-scope
// world.
func (p *Promise) ToChannel() <-chan Outcome {
	ch := make(chan Outcome, 1)
	p.addListener(listener{
		resolve: func(v any) { ch <- Outcome{Value: v, State: StateFulfilled}; close(ch) },
		reject:  func(r any) { ch <- Outcome{Value: r, State: StateRejected}; close(ch) },
		scope:   p.engine.PSD(),
	})
	return ch
}

// Outcome is the settled value of a promise observed via ToChannel.
type Outcome struct {
	Value any
	State State
}

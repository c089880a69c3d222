package promise

import (
	"sync"
	"time"
)

// handlerAttachGrace bounds how long trackRejection's tick-end check waits
// for a same-frame handler attachment before concluding a rejection is
// genuinely unhandled (spec scenario A6). A host task may run its dispatch
// on a goroutine other than the one that created or rejected the promise, so
// "attach a catch synchronously afterward" cannot be observed by program
// order alone — the check instead rendezvouses on a per-rejection channel
// that the attach path closes immediately, falling back to this timeout only
// when nothing ever attaches.
const handlerAttachGrace = 10 * time.Millisecond

// trackRejection implements spec §4.4: a rejection enters the process-wide
// unhandled list (here, an Engine-scoped map keyed by promise identity) and
// its owning scope's local list.
//
// It also charges one scheduled call that does nothing but decrement itself
// at end of tick: spec §4.1 describes finalizePhysicalTick as running "when
// numScheduledCalls falls to zero", which only bootstraps a physical tick at
// all when some listener dispatch is outstanding. A rejection with no
// listener attached yet still needs its unhandled status checked at tick
// end — once, even if nothing else in the tick ever calls asap — so
// trackRejection itself books one scheduled call per rejection to guarantee
// that a check happens before the tick ends, regardless of whether a handler gets
// attached synchronously afterward (spec scenario A6). Before that check
// runs, it waits on a handler-ready channel so a handler attached on another
// goroutine in the same turn still lands before the tick is declared done.
func (e *Engine) trackRejection(p *Promise) {
	ready := make(chan struct{})

	e.unhandledMu.Lock()
	e.unhandledByID[p.id] = p
	e.handlerReady[p.id] = ready
	e.unhandledMu.Unlock()
	p.scope.reportUnhandled(p)

	e.scheduler.beginScheduledCall()
	e.scheduler.asap(func() {
		select {
		case <-ready:
		case <-time.After(handlerAttachGrace):
		}

		e.unhandledMu.Lock()
		delete(e.handlerReady, p.id)
		e.unhandledMu.Unlock()

		if e.scheduler.endScheduledCall() {
			e.finalizePhysicalTick()
		}
	})
}

// signalHandlerAttached closes p's handler-ready channel, if one is still
// pending, waking trackRejection's tick-end check without waiting out its
// full grace period. Safe to call more than once for the same promise.
func (e *Engine) signalHandlerAttached(p *Promise) {
	e.unhandledMu.Lock()
	ready, ok := e.handlerReady[p.id]
	if ok {
		delete(e.handlerReady, p.id)
	}
	e.unhandledMu.Unlock()
	if ok {
		close(ready)
	}
}

// markRejectionHandled implements spec §4.4's markErrorAsHandled: removes p
// from both the process-wide and per-scope unhandled lists.
func (e *Engine) markRejectionHandled(p *Promise) {
	e.unhandledMu.Lock()
	_, existed := e.unhandledByID[p.id]
	delete(e.unhandledByID, p.id)
	e.unhandledMu.Unlock()
	if existed {
		p.scope.clearUnhandled(p)
	}
}

// fireUnhandledRejections implements the first half of finalizePhysicalTick
// (spec §4.1/§4.4): fire each remaining unhandled rejection's owning scope's
// sink. It deliberately does not clear the per-scope unhandleds list — that
// list is Follow's to read (see Follow below); clearing happens only when a
// rejection is genuinely observed, via markRejectionHandled.
func (e *Engine) fireUnhandledRejections() {
	e.unhandledMu.Lock()
	pending := e.unhandledByID
	e.unhandledByID = make(map[uint64]*Promise)
	e.unhandledMu.Unlock()

	for _, p := range pending {
		if e.globalError(p.value, p) {
			continue
		}
		if sink := p.scope.sink(); sink != nil {
			sink(p.value, p)
		} else {
			e.defaultUnhandledSink(p.value, p)
		}
	}
}

func (e *Engine) defaultUnhandledSink(reason any, p *Promise) {
	err := &UnhandledRejectionError{Reason: reason, LongStack: p.LongStack()}
	e.logger.Warning().Err(err).Log("unhandled promise rejection")
}

// Follow implements spec §4.4's follow(fn): runs fn under a fresh child
// scope that accumulates its own unhandled rejections (consuming them —
// suppressing the default sink, spec scenario A7), and returns a promise
// that resolves once the scope's reference count drops to zero and the
// current tick ends: resolved with nil if the scope's unhandled list is
// empty, or rejected with the first entry's reason otherwise.
//
// fn takes no arguments and is expected to create and/or settle tracked
// promises as a side effect.
func Follow(e *Engine, fn func()) *Promise {
	result, resolveFn, rejectFn := WithResolvers(e)
	child := e.newChildScope()

	// A non-nil onunhandled makes this scope "consume" its rejections: the
	// scope-walking sink lookup in Scope.sink stops here instead of
	// bubbling to the root's default sink. The actual resolve/reject
	// decision happens once, at the end of the tick in which the scope's ref
	// count first drops to zero (finalize below). That drop can happen while
	// fn is still running, e.g. when fn settles a promise it created before
	// creating another.
	child.onunhandled = func(any, *Promise) {}

	childFinalize := child.finalize
	var settleOnce sync.Once
	child.finalize = func() {
		if childFinalize != nil {
			childFinalize()
		}
		e.scheduler.addTickFinalizer(func() {
			settleOnce.Do(func() {
				child.mu.Lock()
				unhandleds := child.unhandleds
				child.mu.Unlock()
				if len(unhandleds) == 0 {
					resolveFn(nil)
				} else {
					rejectFn(unhandleds[0].value)
				}
			})
		})
	}

	e.runScopeBody(child, func() any {
		fn()
		return nil
	})
	return result
}

// OnError registers a listener on the engine's global error event (spec §6
// "on.error event"). Listeners run in registration order; a listener that
// returns true suppresses the default unhandled-rejection sink for that
// reason (the "stop propagation" sentinel spec.md describes).
func (e *Engine) OnError(fn func(reason any, p *Promise) (stopPropagation bool)) {
	e.errorListenersMu.Lock()
	e.errorListeners = append(e.errorListeners, fn)
	e.errorListenersMu.Unlock()
}

// globalError fires every registered OnError listener for reason/p, in
// registration order, stopping early and suppressing the default sink if
// any listener returns true.
func (e *Engine) globalError(reason any, p *Promise) (suppressed bool) {
	e.errorListenersMu.Lock()
	listeners := append([]func(any, *Promise) bool(nil), e.errorListeners...)
	e.errorListenersMu.Unlock()
	for _, fn := range listeners {
		if fn(reason, p) {
			return true
		}
	}
	return false
}

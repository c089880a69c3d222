package promise

import "sync"

// wrapperDescriptor is one entry of the wrappers registry (spec §4.2): a
// triple of pure functions a caller uses to save and restore some ambient
// state across scope transitions. snapshot/restore/wrap are modeled as a
// "polymorphic set" per spec §9: each entry's state is an opaque any, held
// at a stable index in every scope's env slice.
type wrapperDescriptor struct {
	snapshot func() any
	restore  func(any)
	wrap     func() any
}

// Scope is "promise-scoped data" (PSD): a reference-counted ambient context
// propagated implicitly through a promise's chain of continuations (spec
// §3, §4.2).
type Scope struct {
	engine *Engine

	parent *Scope
	global bool

	mu   sync.Mutex
	ref  int
	done bool

	unhandleds  []*Promise
	onunhandled func(reason any, p *Promise)

	env []any

	finalize func()
}

// addRef increments the scope's live reference count.
func (s *Scope) addRef() {
	s.mu.Lock()
	s.ref++
	s.mu.Unlock()
}

// release decrements the scope's live reference count, running finalize
// exactly once when it reaches zero. The root scope never finalizes.
func (s *Scope) release() {
	s.mu.Lock()
	s.ref--
	fire := s.ref == 0 && !s.done && !s.global
	if fire {
		s.done = true
	}
	s.mu.Unlock()
	if fire && s.finalize != nil {
		s.finalize()
	}
}

// reportUnhandled appends p to this scope's local unhandled list (spec
// §4.4: per-scope lists, used by Follow).
func (s *Scope) reportUnhandled(p *Promise) {
	s.mu.Lock()
	s.unhandleds = append(s.unhandleds, p)
	s.mu.Unlock()
}

// clearUnhandled removes p from this scope's local unhandled list, if
// present.
func (s *Scope) clearUnhandled(p *Promise) {
	s.mu.Lock()
	for i, u := range s.unhandleds {
		if u == p {
			s.unhandleds = append(s.unhandleds[:i], s.unhandleds[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// sink returns the effective onunhandled handler for this scope: its own,
// or (by prototypal-delegation-equivalent fallback, spec §3) its nearest
// ancestor's.
func (s *Scope) sink() func(reason any, p *Promise) {
	for sc := s; sc != nil; sc = sc.parent {
		sc.mu.Lock()
		fn := sc.onunhandled
		sc.mu.Unlock()
		if fn != nil {
			return fn
		}
	}
	return nil
}

// AddWrapper registers a new wrapper with the engine's registry (spec
// §4.2). Registration is addition-only; order is the order of registration
// and determines each wrapper's stable index into every scope's env slice.
// It is the caller's responsibility to register wrappers before any Scope
// they must apply to is created.
func (e *Engine) AddWrapper(snapshot func() any, restore func(any), wrap func() any) {
	e.scopeMu.Lock()
	e.wrappers = append(e.wrappers, wrapperDescriptor{snapshot: snapshot, restore: restore, wrap: wrap})
	e.scopeMu.Unlock()
}

func (e *Engine) snapshotEnv() []any {
	out := make([]any, len(e.wrappers))
	for i, w := range e.wrappers {
		out[i] = w.snapshot()
	}
	return out
}

func (e *Engine) restoreEnv(env []any) {
	for i, w := range e.wrappers {
		if i < len(env) {
			w.restore(env[i])
		} else {
			w.restore(nil)
		}
	}
}

func (e *Engine) newbornEnv() []any {
	out := make([]any, len(e.wrappers))
	for i, w := range e.wrappers {
		out[i] = w.wrap()
	}
	return out
}

// PSD returns the engine's currently active scope.
func (e *Engine) PSD() *Scope {
	e.scopeMu.Lock()
	defer e.scopeMu.Unlock()
	return e.psd
}

// NewScope creates a child scope of the current PSD, runs fn with that
// scope active, and arranges the child's finalization once its reference
// count returns to zero (spec §4.2 newScope). It returns fn's result.
//
// Structural scope operations (NewScope, UsePSD, Wrap's entry/exit) are
// serialized by the engine's scope mutex: spec.md's single-threaded model
// has exactly one ambient-scope timeline at any instant, and this
// implementation preserves that property across goroutines by treating
// scope-switch as a critical section, rather than by relying on there being
// only one thread.
func (e *Engine) NewScope(fn func() any) any {
	return e.runScopeBody(e.newChildScope(), fn)
}

// newChildScope allocates a child of the current PSD, with a default
// finalize that decrements the parent's ref and cascades (spec §4.2). The
// parent's ref is incremented once here, held across the caller's use of
// the child (typically runScopeBody's invocation of fn).
func (e *Engine) newChildScope() *Scope {
	e.scopeMu.Lock()
	parent := e.psd
	child := &Scope{
		engine: e,
		parent: parent,
		env:    e.newbornEnv(),
	}
	child.finalize = func() {
		if parent != nil {
			parent.release()
		}
	}
	parent.addRef()
	e.scopeMu.Unlock()
	return child
}

// runScopeBody runs fn with child active as PSD, then finalizes child
// immediately if its reference count is still zero once fn returns (spec
// §4.2 newScope's closing step).
func (e *Engine) runScopeBody(child *Scope, fn func() any) any {
	result := e.usePSDLocked(child, fn)

	child.mu.Lock()
	stillZero := child.ref == 0 && !child.done
	if stillZero {
		child.done = true
	}
	child.mu.Unlock()
	if stillZero && child.finalize != nil {
		child.finalize()
	}
	return result
}

// UsePSD runs fn with scope temporarily active as the engine's PSD,
// restoring the previous scope on every exit path, including panics (spec
// §4.2 usePSD).
func (e *Engine) UsePSD(scope *Scope, fn func() any) any {
	return e.usePSDLocked(scope, fn)
}

func (e *Engine) usePSDLocked(scope *Scope, fn func() any) any {
	e.scopeMu.Lock()
	prev := e.psd
	if scope != prev {
		if prev != nil {
			prev.mu.Lock()
			prev.env = e.snapshotEnv()
			prev.mu.Unlock()
		}
		e.psd = scope
		scope.mu.Lock()
		env := scope.env
		scope.mu.Unlock()
		e.restoreEnv(env)
	}
	e.scopeMu.Unlock()

	defer func() {
		e.scopeMu.Lock()
		if scope != prev {
			scope.mu.Lock()
			scope.env = e.snapshotEnv()
			scope.mu.Unlock()
			e.psd = prev
			if prev != nil {
				prev.mu.Lock()
				env := prev.env
				prev.mu.Unlock()
				e.restoreEnv(env)
			}
		}
		e.scopeMu.Unlock()
	}()

	return fn()
}

// Wrap captures the current PSD and returns a function that, on each
// invocation, enters a micro-tick scope, switches to the captured scope
// (with environment snapshot/restore), invokes fn, and on panic calls
// errorCatcher (if non-nil) instead of propagating (spec §4.2 wrap).
// errorCatcher may be nil, in which case the panic is swallowed silently,
// exactly as spec.md describes. The micro-tick scope is entered because a
// wrapped function is typically handed to foreign code (a host timer, an
// event listener) that itself constitutes a host task boundary: any
// continuations scheduled by fn must drain before wrap's caller observes
// control return, exactly as they would for a host-dispatched physicalTick.
func Wrap(e *Engine, fn func(args ...any) any, errorCatcher func(recovered any)) func(args ...any) any {
	captured := e.PSD()
	return func(args ...any) (result any) {
		drain := e.scheduler.beginMicroTickScope()
		defer func() {
			if drain {
				e.scheduler.endMicroTickScope()
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				if errorCatcher != nil {
					errorCatcher(r)
				}
				result = nil
			}
		}()
		return e.UsePSD(captured, func() any { return fn(args...) })
	}
}

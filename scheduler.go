package promise

import "sync"

// deferredCall is one FIFO entry of the tick scheduler (spec §3:
// deferredCallbacks).
type deferredCall func()

// tickScheduler implements spec §4.1: a FIFO of deferred calls drained in
// nested "micro tick" passes, bounded to exactly one host task per
// empty-to-nonempty transition.
//
// The fields below are exactly the process-wide scheduler state enumerated
// in spec §3, guarded by a single mutex rather than relying on a single
// thread of control, since unlike the host this implementation targets,
// Resolve/Reject/Then may legitimately be called from any goroutine.
type tickScheduler struct {
	mu sync.Mutex

	deferredCallbacks    []deferredCall
	numScheduledCalls    int
	outsideMicroTick     bool
	needsNewPhysicalTick bool
	tickFinalizers       []func()

	hostTask func(func())
}

func newTickScheduler(hostTask func(func())) *tickScheduler {
	return &tickScheduler{
		outsideMicroTick:     true,
		needsNewPhysicalTick: true,
		hostTask:             hostTask,
	}
}

// asap appends fn to the deferred queue. If the queue has no host task
// outstanding, it requests exactly one via hostTask. It never runs fn
// synchronously.
func (s *tickScheduler) asap(fn func()) {
	s.mu.Lock()
	s.deferredCallbacks = append(s.deferredCallbacks, fn)
	requestHost := s.needsNewPhysicalTick
	if requestHost {
		s.needsNewPhysicalTick = false
	}
	s.mu.Unlock()

	if requestHost {
		s.hostTask(s.physicalTick)
	}
}

// setHostTask substitutes the host-task primitive (spec §4.1 "scheduler
// accessor"). The replacement must preserve FIFO ordering of physical ticks.
func (s *tickScheduler) setHostTask(fn func(func())) {
	s.mu.Lock()
	s.hostTask = fn
	s.mu.Unlock()
}

// physicalTick is the entry point invoked by the host task.
func (s *tickScheduler) physicalTick() {
	if s.beginMicroTickScope() {
		s.endMicroTickScope()
	}
}

// beginMicroTickScope returns true iff this call transitions outsideMicroTick
// from true to false. Callers that get false must not drain: a drain is
// already in progress higher on the stack (or on another goroutine that won
// the race to enter first).
func (s *tickScheduler) beginMicroTickScope() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.outsideMicroTick {
		return false
	}
	s.outsideMicroTick = false
	s.needsNewPhysicalTick = false
	return true
}

// endMicroTickScope iteratively drains deferredCallbacks: each pass takes
// the whole queue and replaces it with an empty one, then runs every
// callback in the pass. A callback may enqueue more work, which runs in a
// subsequent pass of this same loop — never via recursion, so stack depth is
// bounded regardless of chain length (spec §9 "re-entrant drain").
func (s *tickScheduler) endMicroTickScope() {
	for {
		s.mu.Lock()
		batch := s.deferredCallbacks
		s.deferredCallbacks = nil
		s.mu.Unlock()

		if len(batch) == 0 {
			break
		}
		for _, fn := range batch {
			fn()
		}
	}

	s.mu.Lock()
	s.outsideMicroTick = true
	s.needsNewPhysicalTick = true
	s.mu.Unlock()
}

// beginScheduledCall increments numScheduledCalls, for a dispatch whose
// completion this scheduler must await before finalizing the physical tick.
func (s *tickScheduler) beginScheduledCall() {
	s.mu.Lock()
	s.numScheduledCalls++
	s.mu.Unlock()
}

// endScheduledCall decrements numScheduledCalls and returns true exactly
// when it reaches zero, at which point the caller must run
// finalizePhysicalTick.
func (s *tickScheduler) endScheduledCall() bool {
	s.mu.Lock()
	s.numScheduledCalls--
	n := s.numScheduledCalls
	s.mu.Unlock()
	return n == 0
}

// addTickFinalizer registers fn to run the next time numScheduledCalls
// reaches zero.
func (s *tickScheduler) addTickFinalizer(fn func()) {
	s.mu.Lock()
	s.tickFinalizers = append(s.tickFinalizers, fn)
	s.mu.Unlock()
}

// drainTickFinalizers runs and clears the tickFinalizers list, taking a
// snapshot first so a finalizer that registers another finalizer does not
// run within the same drain pass.
func (s *tickScheduler) drainTickFinalizers() {
	s.mu.Lock()
	fns := s.tickFinalizers
	s.tickFinalizers = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

package promise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syncHostTask(fn func()) { fn() }

func newTestScheduler() *tickScheduler {
	return newTickScheduler(syncHostTask)
}

func TestTickScheduler_AsapDrainsInOrder(t *testing.T) {
	s := newTestScheduler()

	var order []int
	s.asap(func() { order = append(order, 1) })
	s.asap(func() { order = append(order, 2) })

	assert.Equal(t, []int{1, 2}, order)
}

func TestTickScheduler_AsapEnqueuedDuringDrainRunsNextPass(t *testing.T) {
	s := newTestScheduler()

	var order []int
	s.asap(func() {
		order = append(order, 1)
		s.asap(func() { order = append(order, 2) })
	})

	assert.Equal(t, []int{1, 2}, order)
}

func TestTickScheduler_BeginMicroTickScopeReentrancy(t *testing.T) {
	s := newTestScheduler()

	require.True(t, s.beginMicroTickScope())
	assert.False(t, s.beginMicroTickScope(), "a drain already in progress must not begin a second one")
	s.endMicroTickScope()

	assert.True(t, s.beginMicroTickScope(), "a fresh scope must be available once the prior one ends")
	s.endMicroTickScope()
}

func TestTickScheduler_ScheduledCallCounterReachesZero(t *testing.T) {
	s := newTestScheduler()

	s.beginScheduledCall()
	s.beginScheduledCall()
	assert.False(t, s.endScheduledCall())
	assert.True(t, s.endScheduledCall())
}

func TestTickScheduler_TickFinalizersRunOnDrain(t *testing.T) {
	s := newTestScheduler()

	var ran bool
	s.addTickFinalizer(func() { ran = true })
	s.drainTickFinalizers()

	assert.True(t, ran)
}

func TestTickScheduler_TickFinalizerRegisteredDuringDrainWaitsForNextDrain(t *testing.T) {
	s := newTestScheduler()

	var outer, inner bool
	s.addTickFinalizer(func() {
		outer = true
		s.addTickFinalizer(func() { inner = true })
	})
	s.drainTickFinalizers()
	assert.True(t, outer)
	assert.False(t, inner, "a finalizer added during a drain pass must not run within that same pass")

	s.drainTickFinalizers()
	assert.True(t, inner)
}

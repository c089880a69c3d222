package promise

import "sync"

// defaultHostTask is the default "earliest-available-task" primitive (spec
// §6): a plain Go channel feeding a dedicated dispatch goroutine, since this
// package has no file descriptors of its own to multiplex, only closures to
// run one at a time, in submission order.
//
// The goroutine is started lazily, on the first call to run, and lives for
// the process lifetime; discarding the Engine does not stop it.
type defaultHostTask struct {
	once sync.Once
	ch   chan func()
}

func newDefaultHostTask() *defaultHostTask {
	return &defaultHostTask{ch: make(chan func(), 256)}
}

// run enqueues fn to be invoked on the dedicated dispatch goroutine. It never
// runs fn synchronously, matching the "never runs fn synchronously" contract
// asap relies on.
func (h *defaultHostTask) run(fn func()) {
	h.once.Do(h.start)
	h.ch <- fn
}

func (h *defaultHostTask) start() {
	go func() {
		for fn := range h.ch {
			fn()
		}
	}()
}

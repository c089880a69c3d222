package promise

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// Engine is a self-contained instance of the core described by spec §2: a
// tick scheduler, a scope manager with its wrappers registry, a promise
// state machine factory, and an unhandled-rejection tracker. Every promise
// belongs to exactly one Engine for its lifetime.
//
// The package-level default Engine is reached implicitly through [Resolve],
// [Reject], [NewPSD], [UsePSD] and [PSD]; [New], [WithResolvers] and the
// combinators take an explicit Engine, such as [Default]. Construct an
// isolated Engine via [NewEngine] for tests, or to run independent scope
// trees side by side.
type Engine struct {
	logger               *logiface.Logger[logiface.Event]
	diagnosticsEnabled   bool
	maxStackChainDepth   int
	maxStackDisplayDepth int
	rejectionMapper      func(any) any

	scheduler *tickScheduler

	scopeMu  sync.Mutex
	root     *Scope
	psd      *Scope
	wrappers []wrapperDescriptor

	unhandledMu      sync.Mutex
	unhandledByID    map[uint64]*Promise
	handlerReady     map[uint64]chan struct{}
	currentFulfiller atomic.Pointer[Promise]

	errorListenersMu sync.Mutex
	errorListeners   []func(any, *Promise) bool

	nextID atomic.Uint64
}

// NewEngine constructs an independent Engine with its own scheduler, scope
// tree, and unhandled-rejection tracker.
func NewEngine(opts ...EngineOption) *Engine {
	c := resolveEngineConfig(opts)

	logger := c.logger
	if logger == nil {
		logger = logiface.New[logiface.Event](logiface.WithLevel[logiface.Event](logiface.LevelDisabled))
	}

	hostTask := c.hostTask
	if hostTask == nil {
		hostTask = newDefaultHostTask().run
	}

	e := &Engine{
		logger:               logger,
		diagnosticsEnabled:   c.diagnosticsEnabled,
		maxStackChainDepth:   c.maxStackChainDepth,
		maxStackDisplayDepth: c.maxStackDisplayDepth,
		rejectionMapper:      c.rejectionMapper,
		unhandledByID:        make(map[uint64]*Promise),
		handlerReady:         make(map[uint64]chan struct{}),
	}
	e.scheduler = newTickScheduler(hostTask)

	root := &Scope{engine: e, global: true, ref: 1}
	e.root = root
	e.psd = root

	return e
}

var defaultEngine = NewEngine()

// Default returns the package-level default Engine used by Resolve, Reject,
// NewPSD, UsePSD and PSD.
func Default() *Engine { return defaultEngine }

func (e *Engine) nextPromiseID() uint64 {
	return e.nextID.Add(1)
}

// SetHostTask substitutes the host-task primitive after construction (spec
// §6 "scheduler accessor"). See [WithHostTask] for the contract a
// replacement must honor.
func (e *Engine) SetHostTask(fn func(func())) {
	e.scheduler.setHostTask(fn)
}

// finalizePhysicalTick runs when numScheduledCalls falls to zero (spec
// §4.1): it fires each remaining unhandled rejection's owning scope's sink,
// then drains the tickFinalizers list (spec §4.4's follow() hooks in among
// them).
func (e *Engine) finalizePhysicalTick() {
	e.fireUnhandledRejections()
	e.scheduler.drainTickFinalizers()
}

package promise

import "github.com/joeycumines/logiface"

// EngineOption configures an Engine constructed via NewEngine.
type EngineOption interface {
	applyEngine(*engineConfig)
}

type engineConfig struct {
	logger               *logiface.Logger[logiface.Event]
	diagnosticsEnabled   bool
	maxStackChainDepth   int
	maxStackDisplayDepth int
	rejectionMapper      func(any) any
	hostTask             func(func())
}

type engineOptionFunc func(*engineConfig)

func (f engineOptionFunc) applyEngine(c *engineConfig) { f(c) }

// WithLogger attaches a structured logger used by the default
// unhandled-rejection sink. Recovered panics are not logged. When unset, a
// disabled (no-op) logger is used.
func WithLogger(l *logiface.Logger[logiface.Event]) EngineOption {
	return engineOptionFunc(func(c *engineConfig) { c.logger = l })
}

// WithDiagnostics enables or disables long-stack capture (spec §4.5). It is
// disabled by default, since capturing a stack on every promise allocation
// and `then` call is not free.
func WithDiagnostics(enabled bool) EngineOption {
	return engineOptionFunc(func(c *engineConfig) { c.diagnosticsEnabled = enabled })
}

// WithMaxStackChainDepth caps how many ancestor links a long stack will
// track before truncating the chain (spec §4.5: capped at 100).
func WithMaxStackChainDepth(n int) EngineOption {
	return engineOptionFunc(func(c *engineConfig) {
		if n > 0 {
			c.maxStackChainDepth = n
		}
	})
}

// WithMaxStackDisplayDepth caps how many ancestors are rendered when a long
// stack is read (spec §4.5: displayed up to 20 ancestors).
func WithMaxStackDisplayDepth(n int) EngineOption {
	return engineOptionFunc(func(c *engineConfig) {
		if n > 0 {
			c.maxStackDisplayDepth = n
		}
	})
}

// WithRejectionMapper installs a function applied to every rejection reason
// before it is stored (spec §4.3 step: reject). The tracker dedups by
// promise identity, not by the mapped value's identity, so the mapper need
// not be idempotent.
func WithRejectionMapper(fn func(any) any) EngineOption {
	return engineOptionFunc(func(c *engineConfig) { c.rejectionMapper = fn })
}

// WithHostTask substitutes the host's earliest-available-task primitive
// used to schedule physical ticks (spec §4.1 "scheduler accessor", §6 "host
// requirements"). The default, in host.go, uses a dedicated goroutine fed by
// a channel. A replacement must preserve ordering: it must eventually invoke
// the given function exactly once, and must never invoke it synchronously.
func WithHostTask(fn func(func())) EngineOption {
	return engineOptionFunc(func(c *engineConfig) { c.hostTask = fn })
}

func resolveEngineConfig(opts []EngineOption) *engineConfig {
	c := &engineConfig{
		maxStackChainDepth:   100,
		maxStackDisplayDepth: 20,
		rejectionMapper:      func(v any) any { return v },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyEngine(c)
	}
	return c
}

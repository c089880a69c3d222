package promise

import (
	"fmt"
	"runtime"
	"strings"
)

// captureCreationStack records the current goroutine's call stack at
// construction time (spec §4.5: "every promise created via new or then
// captures a host stack holder"). The host-provided "throw a synthetic
// exception" trick spec.md describes is a JS-specific workaround for hosts
// that only expose stacks on thrown exceptions; Go's runtime.Callers needs
// no such trick.
func (p *Promise) captureCreationStack() {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	p.stackHolder = pcs[:n]
}

// linkPrev links p to the promise whose continuation created it, capping
// chain depth at the owning Engine's configured maximum (spec §4.5: "caps
// chain depth at 100").
func (p *Promise) linkPrev(creator *Promise) {
	if creator == nil {
		return
	}
	if creator.numPrev >= p.engine.maxStackChainDepth {
		return
	}
	p.prev = creator
	p.numPrev = creator.numPrev + 1
}

// LongStack returns the composite diagnostic string for this promise's
// chain, walking up to the owning Engine's configured display depth (spec
// §4.5: "up to 20 ancestors"), joined with "From previous:". The result is
// cached once the promise is terminal. It returns "" when diagnostics are
// disabled.
func (p *Promise) LongStack() string {
	if p == nil || p.engine == nil || !p.engine.diagnosticsEnabled {
		return ""
	}

	p.mu.Lock()
	if p.cachedStack != "" {
		s := p.cachedStack
		p.mu.Unlock()
		return s
	}
	settled := p.state != StatePending
	p.mu.Unlock()

	var parts []string
	cur := p
	for depth := 0; cur != nil && depth < p.engine.maxStackDisplayDepth; depth++ {
		parts = append(parts, formatStack(cur.stackHolder))
		cur = cur.prev
	}
	stack := strings.Join(parts, "\nFrom previous:\n")

	if settled {
		p.mu.Lock()
		p.cachedStack = stack
		p.mu.Unlock()
	}
	return stack
}

func formatStack(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}
